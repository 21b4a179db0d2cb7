// Package index implements the hot-key cache's concurrency-optimized
// lookup structure (C2): a bucketed hash table keyed by fingerprint,
// with exact key-bytes comparison resolving collisions. Readers never
// take a lock; writers serialize per bucket.
package index

import (
	"sync"
	"sync/atomic"

	"github.com/hybridkv/hotcache/arena"
	"github.com/hybridkv/hotcache/internal/util"
)

// node is one chain element. next is published with release semantics via
// atomic.Pointer so a reader that loads a head or next pointer always
// observes a fully-initialized node.
type node struct {
	fingerprint uint64
	key         []byte // copy of the key bytes for comparison without touching the arena
	handle      arena.Handle
	next        atomic.Pointer[node]
}

// bucket pairs a chain head with the mutex that serializes writers.
type bucket struct {
	mu   sync.Mutex
	head atomic.Pointer[node]
}

// table is one generation of the bucket array. Resizing builds a new
// table and swaps Index.table atomically; Go's GC keeps a table alive for
// as long as any in-flight reader still holds a reference to it, so
// readers that started before a resize simply finish against the old
// table without any explicit hazard-pointer bookkeeping.
type table struct {
	buckets []bucket
}

// Index is the bucketed hash index. Safe for concurrent use; Lookup is
// wait-free, Insert/Remove serialize per bucket, and growth-only resize
// runs in whichever caller of Resize acquires resizeMu.
type Index struct {
	t atomic.Pointer[table]

	resizeMu sync.Mutex
	count    atomic.Int64 // resident entries, used to decide when to grow
}

const loadFactorResizeThreshold = 0.75

// bucketsPerShard scales util.ReasonableShardCount's per-CPU shard
// estimate up to a bucket-table floor: each "shard" worth of concurrent
// writers gets this many buckets of headroom before the load factor
// forces a resize.
const bucketsPerShard = 64

// New builds an Index with initialCapacity buckets (rounded up to a power
// of two). The floor is never below util.ReasonableShardCount's per-CPU
// shard estimate scaled by bucketsPerShard, so a caller's undersized hint
// doesn't leave a highly parallel machine starting out bucket-starved.
func New(initialCapacity int) *Index {
	if min := util.ReasonableShardCount() * bucketsPerShard; initialCapacity < min {
		initialCapacity = min
	}
	n := util.NextPow2(uint64(initialCapacity))
	if n < 16 {
		n = 16
	}
	idx := &Index{}
	idx.t.Store(&table{buckets: make([]bucket, n)})
	return idx
}

// bucketFor maps fp into t's bucket array via util.ShardIndex. The table
// size is always a power of two by construction (New/Resize), so this
// takes ShardIndex's masking fast path rather than its modulo fallback.
func (idx *Index) bucketFor(t *table, fp uint64) *bucket {
	return &t.buckets[util.ShardIndex(fp, len(t.buckets))]
}

// Lookup returns the handle for (fingerprint, key) or ok=false. It takes
// no lock and mutates no shared state.
func (idx *Index) Lookup(fingerprint uint64, key []byte) (arena.Handle, bool) {
	t := idx.t.Load()
	b := idx.bucketFor(t, fingerprint)
	for n := b.head.Load(); n != nil; n = n.next.Load() {
		if n.fingerprint == fingerprint && string(n.key) == string(key) {
			return n.handle, true
		}
	}
	return 0, false
}

// InsertResult reports what Insert did so callers can retire superseded
// handles and update accounting.
type InsertResult struct {
	Replaced     bool
	OldHandle    arena.Handle
	ShouldResize bool
}

// Insert publishes handle for (fingerprint, key), replacing any existing
// entry with an equal key. The caller is responsible for retiring
// InsertResult.OldHandle via the arena once it no longer needs it visible
// to in-flight readers (the index has already unlinked it).
func (idx *Index) Insert(fingerprint uint64, key []byte, handle arena.Handle) InsertResult {
	t := idx.t.Load()
	b := idx.bucketFor(t, fingerprint)

	b.mu.Lock()
	var res InsertResult
	head := b.head.Load()
	for n := head; n != nil; n = n.next.Load() {
		if n.fingerprint == fingerprint && string(n.key) == string(key) {
			// In-place chain splice: link a fresh node ahead of the old one
			// and detach the old one, so a concurrent reader sees either the
			// old node or the new one, never both.
			fresh := &node{fingerprint: fingerprint, key: key, handle: handle}
			idx.spliceReplace(b, head, n, fresh)
			res.Replaced = true
			res.OldHandle = n.handle
			b.mu.Unlock()
			return res
		}
	}

	fresh := &node{fingerprint: fingerprint, key: key, handle: handle}
	fresh.next.Store(head)
	b.head.Store(fresh)
	b.mu.Unlock()

	newCount := idx.count.Add(1)
	res.ShouldResize = float64(newCount) > loadFactorResizeThreshold*float64(len(t.buckets))
	return res
}

// spliceReplace rebuilds the chain with old removed and fresh in its
// place, publishing a brand-new head in one atomic store so readers
// never observe a partially-updated chain.
func (idx *Index) spliceReplace(b *bucket, head, old, fresh *node) {
	nodes := make([]*node, 0, 4)
	for n := head; n != nil; n = n.next.Load() {
		if n == old {
			nodes = append(nodes, fresh)
			continue
		}
		nodes = append(nodes, n)
	}
	for i := len(nodes) - 1; i > 0; i-- {
		nodes[i-1].next.Store(nodes[i])
	}
	if len(nodes) > 0 {
		nodes[len(nodes)-1].next.Store(nil)
	}
	if len(nodes) == 0 {
		b.head.Store(nil)
	} else {
		b.head.Store(nodes[0])
	}
}

// Remove detaches (fingerprint, key) from the index and returns its
// handle. The caller retires the handle via the arena.
func (idx *Index) Remove(fingerprint uint64, key []byte) (arena.Handle, bool) {
	t := idx.t.Load()
	b := idx.bucketFor(t, fingerprint)

	b.mu.Lock()
	defer b.mu.Unlock()

	head := b.head.Load()
	for n := head; n != nil; n = n.next.Load() {
		if n.fingerprint == fingerprint && string(n.key) == string(key) {
			idx.spliceRemove(b, head, n)
			idx.count.Add(-1)
			return n.handle, true
		}
	}
	return 0, false
}

// spliceRemove rebuilds the chain with old spliced out and publishes the
// new head in one atomic store, so a reader observes either the full
// chain or the chain without old — never a dangling intermediate state.
func (idx *Index) spliceRemove(b *bucket, head, old *node) {
	nodes := make([]*node, 0, 4)
	for n := head; n != nil; n = n.next.Load() {
		if n != old {
			nodes = append(nodes, n)
		}
	}
	for i := len(nodes) - 1; i > 0; i-- {
		nodes[i-1].next.Store(nodes[i])
	}
	if len(nodes) == 0 {
		b.head.Store(nil)
		return
	}
	nodes[len(nodes)-1].next.Store(nil)
	b.head.Store(nodes[0])
}

// Len returns the resident entry count.
func (idx *Index) Len() int { return int(idx.count.Load()) }

// LookupFingerprint resolves fp to its handle and key without the caller
// already knowing the key, for callers (eviction victim comparison) that
// only carry a bare fingerprint. Wait-free like Lookup; relies on the
// same fingerprint-uniqueness assumption Insert/Remove already make.
func (idx *Index) LookupFingerprint(fp uint64) (arena.Handle, []byte, bool) {
	t := idx.t.Load()
	b := idx.bucketFor(t, fp)
	for n := b.head.Load(); n != nil; n = n.next.Load() {
		if n.fingerprint == fp {
			return n.handle, n.key, true
		}
	}
	return 0, nil, false
}

// RemoveFingerprint detaches the entry carrying fp and returns its handle
// and key, for the eviction path where a policy's SelectVictims hands
// back bare fingerprints rather than keys.
func (idx *Index) RemoveFingerprint(fp uint64) (arena.Handle, []byte, bool) {
	t := idx.t.Load()
	b := idx.bucketFor(t, fp)

	b.mu.Lock()
	defer b.mu.Unlock()

	head := b.head.Load()
	for n := head; n != nil; n = n.next.Load() {
		if n.fingerprint == fp {
			idx.spliceRemove(b, head, n)
			idx.count.Add(-1)
			return n.handle, n.key, true
		}
	}
	return 0, nil, false
}

// Range calls fn for every resident (fingerprint, key, handle), stopping
// early if fn returns false. Like Lookup, it takes no bucket lock, so a
// concurrent Insert/Remove may or may not be observed by an in-flight
// Range; callers that need a consistent cut (PURGE, STATS) tolerate this
// best-effort view rather than stopping the world.
func (idx *Index) Range(fn func(fingerprint uint64, key []byte, handle arena.Handle) bool) {
	t := idx.t.Load()
	for i := range t.buckets {
		b := &t.buckets[i]
		for n := b.head.Load(); n != nil; n = n.next.Load() {
			if !fn(n.fingerprint, n.key, n.handle) {
				return
			}
		}
	}
}

// Buckets returns the current bucket count, used by tests and by
// Resize's caller to decide whether growth already happened concurrently.
func (idx *Index) Buckets() int { return len(idx.t.Load().buckets) }

// Resize grows the table to the next power of two above its current
// size once the load factor exceeds loadFactorResizeThreshold, and is a
// no-op otherwise. It is safe to call concurrently with Lookup/Insert/Remove;
// readers in flight against the old table simply finish there. Only one
// resize runs at a time (resizeMu); a second caller observing
// ShouldResize while a resize is already running is a no-op.
func (idx *Index) Resize() {
	if !idx.resizeMu.TryLock() {
		return
	}
	defer idx.resizeMu.Unlock()

	old := idx.t.Load()
	if float64(idx.count.Load()) <= loadFactorResizeThreshold*float64(len(old.buckets)) {
		return
	}
	newSize := len(old.buckets) * 2
	nt := &table{buckets: make([]bucket, newSize)}

	for i := range old.buckets {
		ob := &old.buckets[i]
		ob.mu.Lock()
		for n := ob.head.Load(); n != nil; n = n.next.Load() {
			nb := &nt.buckets[util.ShardIndex(n.fingerprint, len(nt.buckets))]
			fresh := &node{fingerprint: n.fingerprint, key: n.key, handle: n.handle}
			fresh.next.Store(nb.head.Load())
			nb.head.Store(fresh)
		}
		ob.mu.Unlock()
	}

	idx.t.Store(nt)
}
