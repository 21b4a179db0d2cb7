// Package lru implements the LRU eviction policy against the
// cache-wide policy.Hooks/policy.EvictionPolicy shape.
package lru

import (
	"time"

	"github.com/hybridkv/hotcache/policy"
)

type lru struct {
	h policy.Hooks
}

type factory struct{}

// New returns a Factory that constructs LRU instances.
func New() policy.Factory { return factory{} }

func (factory) New(h policy.Hooks) policy.EvictionPolicy { return &lru{h: h} }

// OnHit promotes the entry to MRU.
func (p *lru) OnHit(e policy.Entry) { p.h.MoveToFront(e.Fingerprint) }

// OnMiss is a no-op for pure LRU.
func (p *lru) OnMiss(uint64) {}

// OnInsert places the new entry at MRU.
func (p *lru) OnInsert(e policy.Entry) { p.h.PushFront(e.Fingerprint) }

// SelectVictims returns up to n fingerprints from the LRU end.
func (p *lru) SelectVictims(n int, tenant uint32, scoped bool) []uint64 {
	return selectFromBack(p.h, n)
}

// OnEvict is a no-op for pure LRU (nothing to clean up in policy state).
func (p *lru) OnEvict(policy.Entry, policy.EvictReason) {}

// OnTick is a no-op for pure LRU.
func (p *lru) OnTick(time.Time) {}

// selectFromBack pops up to n fingerprints off the back of h's list,
// the single recency-ordered list LRU keeps.
func selectFromBack(h policy.Hooks, n int) []uint64 {
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		fp, ok := h.Back()
		if !ok {
			break
		}
		out = append(out, fp)
		h.Remove(fp)
	}
	return out
}
