// Package twoq implements the 2Q eviction policy against the
// cache-wide policy.Hooks/policy.EvictionPolicy shape (fingerprints
// instead of generic nodes).
package twoq

import (
	"container/list"
	"time"

	"github.com/hybridkv/hotcache/policy"
)

// twoQ implements the 2Q eviction policy.
//
// Resident queues:
//   - A1in (younger queue) — its own list + index by fingerprint; admits first-time entries
//   - Am   (mature queue)  — tracked via the shared Hooks ordering
//
// Ghost A1out: fingerprints only, tracks recently evicted A1in entries
// to give them a second chance (bypass A1in on re-admission).
type twoQ struct {
	h policy.Hooks

	capIn    int
	capGhost int

	inList *list.List
	inIdx  map[uint64]*list.Element

	ghostList *list.List
	ghostIdx  map[uint64]*list.Element
}

type factory struct{ capIn, capGhost int }

// New constructs a 2Q policy factory. Common choices: capIn ≈ 25% of
// cache capacity; capGhost ≈ 50-100% of cache capacity.
func New(capIn, capGhost int) policy.Factory {
	if capIn < 1 {
		capIn = 1
	}
	if capGhost < 1 {
		capGhost = 1
	}
	return factory{capIn: capIn, capGhost: capGhost}
}

func (f factory) New(h policy.Hooks) policy.EvictionPolicy {
	return &twoQ{
		h:         h,
		capIn:     f.capIn,
		capGhost:  f.capGhost,
		inList:    list.New(),
		inIdx:     make(map[uint64]*list.Element),
		ghostList: list.New(),
		ghostIdx:  make(map[uint64]*list.Element),
	}
}

// OnHit: if the entry was in A1in, remove it from A1in (promotion to
// Am), then move it to MRU in the shared ordering.
func (q *twoQ) OnHit(e policy.Entry) {
	if el, ok := q.inIdx[e.Fingerprint]; ok {
		q.inList.Remove(el)
		delete(q.inIdx, e.Fingerprint)
	}
	q.h.MoveToFront(e.Fingerprint)
}

func (q *twoQ) OnMiss(uint64) {}

// OnInsert admission rules:
//   - If the fingerprint is present in ghosts (A1out), bypass A1in and
//     admit directly to Am (MRU). Also remove the ghost entry.
//   - Otherwise admit into A1in.
func (q *twoQ) OnInsert(e policy.Entry) {
	fp := e.Fingerprint
	if ge, ok := q.ghostIdx[fp]; ok {
		q.ghostList.Remove(ge)
		delete(q.ghostIdx, fp)
		q.h.PushFront(fp)
		return
	}
	q.inIdx[fp] = q.inList.PushFront(fp)
}

// SelectVictims takes from A1in's oldest end first, whether or not A1in
// is over its capacity (2Q's "young" queue is the weaker segment),
// falling back to Am's LRU end once A1in is empty.
func (q *twoQ) SelectVictims(n int, tenant uint32, scoped bool) []uint64 {
	out := make([]uint64, 0, n)
	for len(out) < n && q.inList.Len() > 0 {
		el := q.inList.Back()
		fp := el.Value.(uint64)
		q.inList.Remove(el)
		delete(q.inIdx, fp)
		out = append(out, fp)
	}
	for len(out) < n {
		fp, ok := q.h.Back()
		if !ok {
			break
		}
		q.h.Remove(fp)
		out = append(out, fp)
	}
	return out
}

// OnEvict records the evicted fingerprint as a ghost so a near-future
// re-admission bypasses A1in, then trims the ghost list to capacity.
func (q *twoQ) OnEvict(e policy.Entry, reason policy.EvictReason) {
	fp := e.Fingerprint
	if old, ok := q.ghostIdx[fp]; ok {
		q.ghostList.Remove(old)
	}
	q.ghostIdx[fp] = q.ghostList.PushFront(fp)

	for q.ghostList.Len() > q.capGhost {
		tail := q.ghostList.Back()
		if tail == nil {
			break
		}
		gfp := tail.Value.(uint64)
		delete(q.ghostIdx, gfp)
		q.ghostList.Remove(tail)
	}
}

func (q *twoQ) OnTick(time.Time) {}
