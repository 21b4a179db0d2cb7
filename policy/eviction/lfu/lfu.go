// Package lfu implements an approximate LFU eviction policy: a
// per-fingerprint access counter with periodic aging via halving,
// a frequency-ordered structure alongside the list-based lru/twoq/slru
// policies in this package.
package lfu

import (
	"sync"
	"time"

	"github.com/hybridkv/hotcache/policy"
)

// HalveEvery bounds how often OnTick halves all counters, keeping
// frequency estimates responsive to workload shifts.
const HalveEvery = time.Minute

type lfu struct {
	h policy.Hooks

	mu         sync.Mutex
	counts     map[uint64]uint32
	insertedAt map[uint64]time.Time
	lastHalf   time.Time
}

type factory struct{}

// New returns a Factory that constructs LFU instances.
func New() policy.Factory { return factory{} }

func (factory) New(h policy.Hooks) policy.EvictionPolicy {
	return &lfu{h: h, counts: make(map[uint64]uint32), insertedAt: make(map[uint64]time.Time)}
}

func (p *lfu) OnHit(e policy.Entry) {
	p.mu.Lock()
	p.counts[e.Fingerprint]++
	p.mu.Unlock()
}

func (p *lfu) OnMiss(uint64) {}

func (p *lfu) OnInsert(e policy.Entry) {
	p.h.PushFront(e.Fingerprint)
	p.mu.Lock()
	p.counts[e.Fingerprint] = 1
	p.insertedAt[e.Fingerprint] = e.InsertedAt
	p.mu.Unlock()
}

// SelectVictims returns up to n fingerprints with the lowest observed
// frequency. Ties among equal counts are broken by policy.TieBreak
// (older InsertedAt loses; equal InsertedAt, smaller fingerprint loses)
// so the outcome is deterministic regardless of map iteration order.
func (p *lfu) SelectVictims(n int, tenant uint32, scoped bool) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	type candidate struct {
		fp    uint64
		count uint32
	}
	candidates := make([]candidate, 0, len(p.counts))
	for fp, c := range p.counts {
		candidates = append(candidates, candidate{fp, c})
	}
	less := func(a, b candidate) bool {
		if a.count != b.count {
			return a.count < b.count
		}
		return policy.TieBreak(
			policy.Entry{Fingerprint: a.fp, InsertedAt: p.insertedAt[a.fp]},
			policy.Entry{Fingerprint: b.fp, InsertedAt: p.insertedAt[b.fp]},
		)
	}
	// Partial selection sort for the n lowest (count, tie-break) pairs;
	// n is small relative to the resident set under normal eviction
	// pressure.
	for i := 0; i < n && i < len(candidates); i++ {
		min := i
		for j := i + 1; j < len(candidates); j++ {
			if less(candidates[j], candidates[min]) {
				min = j
			}
		}
		candidates[i], candidates[min] = candidates[min], candidates[i]
	}

	out := make([]uint64, 0, n)
	for i := 0; i < n && i < len(candidates); i++ {
		fp := candidates[i].fp
		out = append(out, fp)
		delete(p.counts, fp)
		delete(p.insertedAt, fp)
		p.h.Remove(fp)
	}
	return out
}

func (p *lfu) OnEvict(policy.Entry, policy.EvictReason) {}

// OnTick halves all counters at most once per HalveEvery, bounding how
// long a once-hot, now-cold key keeps its frequency advantage.
func (p *lfu) OnTick(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastHalf.IsZero() {
		p.lastHalf = now
		return
	}
	if now.Sub(p.lastHalf) < HalveEvery {
		return
	}
	p.lastHalf = now
	for fp, c := range p.counts {
		p.counts[fp] = c / 2
	}
}
