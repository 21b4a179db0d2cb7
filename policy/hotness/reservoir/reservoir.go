// Package reservoir implements a reservoir-sampling hotness estimator:
// a fixed-size sample of recently observed fingerprints approximates
// relative frequency by counting occurrences within the sample, trading
// Count-Min Sketch's guaranteed no-undercount for O(1) memory that
// naturally ages out old keys as the sample turns over.
package reservoir

import (
	"math/rand"
	"sync"

	"github.com/hybridkv/hotcache/policy"
)

// Estimator is a reservoir-sampling frequency estimator over a fixed
// number of slots.
type Estimator struct {
	mu     sync.Mutex
	sample []uint64
	counts map[uint64]uint32
	seen   uint64
	rng    *rand.Rand
}

// New builds an Estimator with the given reservoir size.
func New(size int) *Estimator {
	if size < 1 {
		size = 1
	}
	return &Estimator{
		sample: make([]uint64, 0, size),
		counts: make(map[uint64]uint32),
		rng:    rand.New(rand.NewSource(1)),
	}
}

// Observe runs the classic reservoir-sampling algorithm R: the first
// len(sample)-capacity observations always enter; afterward, the k-th
// observation replaces a uniformly random existing slot with probability
// capacity/k.
func (e *Estimator) Observe(fp uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seen++
	if len(e.sample) < cap(e.sample) {
		e.sample = append(e.sample, fp)
		e.counts[fp]++
		return
	}

	j := e.rng.Int63n(int64(e.seen))
	if int(j) < cap(e.sample) {
		old := e.sample[j]
		e.counts[old]--
		if e.counts[old] == 0 {
			delete(e.counts, old)
		}
		e.sample[j] = fp
		e.counts[fp]++
	}
}

// Estimate returns fp's occurrence count within the current sample, a
// proxy for its relative recent frequency.
func (e *Estimator) Estimate(fp uint64) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[fp]
}

// Reset clears the sample entirely, starting frequency tracking fresh.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sample = e.sample[:0]
	e.counts = make(map[uint64]uint32)
	e.seen = 0
}

// compile-time check: Estimator implements policy.HotnessEstimator.
var _ policy.HotnessEstimator = (*Estimator)(nil)
