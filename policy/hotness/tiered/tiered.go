// Package tiered implements a tiered-counter hotness estimator: a small
// exact map for a bounded number of the currently hottest fingerprints,
// backed by a coarser Count-Min Sketch for everything else, so the hot
// set gets exact counts while the long tail costs O(1) sketch memory.
package tiered

import (
	"sync"

	"github.com/hybridkv/hotcache/policy"
	"github.com/hybridkv/hotcache/policy/hotness/cms"
)

// Estimator combines an exact top-N tier with a sketch fallback tier.
type Estimator struct {
	mu      sync.Mutex
	exact   map[uint64]uint32
	maxTier int
	sketch  *cms.Sketch
}

// New builds a tiered estimator: up to maxTier fingerprints are tracked
// exactly; sketchWidth sizes the fallback Count-Min Sketch.
func New(maxTier, sketchWidth int) *Estimator {
	if maxTier < 1 {
		maxTier = 1
	}
	return &Estimator{
		exact:   make(map[uint64]uint32, maxTier),
		maxTier: maxTier,
		sketch:  cms.New(sketchWidth),
	}
}

// Observe increments fp's exact count if it's already tracked or the
// tier has room; otherwise the observation only updates the sketch.
func (e *Estimator) Observe(fp uint64) {
	e.mu.Lock()
	if _, ok := e.exact[fp]; ok {
		e.exact[fp]++
		e.mu.Unlock()
		return
	}
	if len(e.exact) < e.maxTier {
		e.exact[fp] = 1
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.sketch.Observe(fp)
}

// Estimate returns the exact count when fp is in the top tier,
// otherwise the sketch's estimate.
func (e *Estimator) Estimate(fp uint64) uint32 {
	e.mu.Lock()
	if c, ok := e.exact[fp]; ok {
		e.mu.Unlock()
		return c
	}
	e.mu.Unlock()
	return e.sketch.Estimate(fp)
}

// Reset clears the exact tier and resets the fallback sketch, making
// room for a new set of hot fingerprints to establish themselves.
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.exact = make(map[uint64]uint32, e.maxTier)
	e.mu.Unlock()
	e.sketch.Reset()
}

// compile-time check: Estimator implements policy.HotnessEstimator.
var _ policy.HotnessEstimator = (*Estimator)(nil)
