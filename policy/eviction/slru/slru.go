// Package slru implements the Segmented LRU eviction policy:
// probationary + protected segments, admissions enter probation. Mirrors
// the two-list split used by the twoq policy here (its own auxiliary
// list alongside the cache's shared MRU ordering), between "probation"
// (its own list) and "protected" (the shared Hooks ordering).
package slru

import (
	"container/list"
	"time"

	"github.com/hybridkv/hotcache/policy"
)

type slru struct {
	h policy.Hooks

	capProtected int // protected segment capacity; probation absorbs the rest

	probation    *list.List
	probationIdx map[uint64]*list.Element

	protectedLen int // mirrors h's length restricted to entries we pushed there
}

type factory struct{ capProtected int }

// New returns a Factory that constructs SLRU instances. capProtected
// bounds the protected segment; entries demoted from it return to
// probation.
func New(capProtected int) policy.Factory {
	if capProtected < 1 {
		capProtected = 1
	}
	return factory{capProtected: capProtected}
}

func (f factory) New(h policy.Hooks) policy.EvictionPolicy {
	return &slru{
		h:            h,
		capProtected: f.capProtected,
		probation:    list.New(),
		probationIdx: make(map[uint64]*list.Element),
	}
}

// OnHit promotes a probationary entry into protected; protected entries
// simply move to MRU within the shared ordering.
func (p *slru) OnHit(e policy.Entry) {
	if el, ok := p.probationIdx[e.Fingerprint]; ok {
		p.probation.Remove(el)
		delete(p.probationIdx, e.Fingerprint)
		p.h.PushFront(e.Fingerprint)
		p.protectedLen++
		p.demoteIfOverflowing()
		return
	}
	p.h.MoveToFront(e.Fingerprint)
}

func (p *slru) OnMiss(uint64) {}

// OnInsert admits into probation, never directly into protected.
func (p *slru) OnInsert(e policy.Entry) {
	p.probationIdx[e.Fingerprint] = p.probation.PushFront(e.Fingerprint)
}

// demoteIfOverflowing pushes the LRU protected entry back to probation
// when the protected segment exceeds capacity.
func (p *slru) demoteIfOverflowing() {
	for p.protectedLen > p.capProtected {
		fp, ok := p.h.Back()
		if !ok {
			return
		}
		p.h.Remove(fp)
		p.protectedLen--
		p.probationIdx[fp] = p.probation.PushFront(fp)
	}
}

// SelectVictims evicts from probation first (it is the weaker segment),
// falling back to the protected segment's LRU end only once probation
// is exhausted.
func (p *slru) SelectVictims(n int, tenant uint32, scoped bool) []uint64 {
	out := make([]uint64, 0, n)
	for len(out) < n {
		el := p.probation.Back()
		if el == nil {
			break
		}
		fp := el.Value.(uint64)
		p.probation.Remove(el)
		delete(p.probationIdx, fp)
		out = append(out, fp)
	}
	for len(out) < n {
		fp, ok := p.h.Back()
		if !ok {
			break
		}
		p.h.Remove(fp)
		p.protectedLen--
		out = append(out, fp)
	}
	return out
}

func (p *slru) OnEvict(policy.Entry, policy.EvictReason) {}

func (p *slru) OnTick(time.Time) {}
