// Package fifo implements the FIFO (insertion-order-only) eviction
// policy, the simplest built-in: the same Hooks-backed list the lru
// policy uses, just without promotion on hit.
package fifo

import (
	"time"

	"github.com/hybridkv/hotcache/policy"
)

type fifo struct {
	h policy.Hooks
}

type factory struct{}

// New returns a Factory that constructs FIFO instances.
func New() policy.Factory { return factory{} }

func (factory) New(h policy.Hooks) policy.EvictionPolicy { return &fifo{h: h} }

// OnHit is a no-op: FIFO never reorders on access.
func (p *fifo) OnHit(policy.Entry) {}

// OnMiss is a no-op.
func (p *fifo) OnMiss(uint64) {}

// OnInsert places the new entry at the front; entries age toward the
// back purely by insertion order.
func (p *fifo) OnInsert(e policy.Entry) { p.h.PushFront(e.Fingerprint) }

// SelectVictims returns up to n oldest-inserted fingerprints.
func (p *fifo) SelectVictims(n int, tenant uint32, scoped bool) []uint64 {
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		fp, ok := p.h.Back()
		if !ok {
			break
		}
		out = append(out, fp)
		p.h.Remove(fp)
	}
	return out
}

// OnEvict is a no-op: FIFO keeps no auxiliary state.
func (p *fifo) OnEvict(policy.Entry, policy.EvictReason) {}

// OnTick is a no-op.
func (p *fifo) OnTick(time.Time) {}
