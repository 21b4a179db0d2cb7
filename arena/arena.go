// Package arena implements the hot-key cache's object storage layer (C1):
// slab-backed storage for cached values behind stable handles, with
// epoch-gated reclamation so readers never block on writers or evictors.
package arena

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrOOM is returned by Allocate when no cell of sufficient size is free
// and the caller's budget cannot accommodate growth.
var ErrOOM = errors.New("arena: out of memory")

// ErrTooLarge is returned by Allocate when size exceeds the largest
// configured size class.
var ErrTooLarge = errors.New("arena: value exceeds largest size class")

// minCellSize is the smallest slab size class, per spec.md §3 ("smallest ≥64 B").
const minCellSize = 64

// numClasses bounds the geometric progression of size classes; class i
// holds cells of size minCellSize<<i. 16 classes covers 64B..2MiB, comfortably
// past the 1KiB value ceiling plus header and key bytes.
const numClasses = 16

// Handle is an opaque, stable reference to an arena cell. It never
// changes for the lifetime of the entry it names.
type Handle uint64

const nilHandle Handle = 0

// packHandle encodes a size class and slot index into a Handle. Class 0
// is reserved to make the zero Handle recognizably invalid.
func packHandle(class, slot int) Handle {
	return Handle(uint64(class+1)<<32 | uint64(uint32(slot)))
}

func (h Handle) unpack() (class, slot int) {
	return int(h>>32) - 1, int(uint32(h))
}

// Valid reports whether h refers to a live cell (the zero Handle never does).
func (h Handle) Valid() bool { return h != nilHandle }

// cell is one slab slot: a byte buffer sized to its class, plus the
// bookkeeping needed to defer recycling until readers drain.
type cell struct {
	bytes    []byte
	retired  atomic.Bool
	epoch    uint64 // retirement epoch; valid only once retired == true
	refcount atomic.Int32
}

// classSize returns the cell size of the ith geometric size class.
func classSize(class int) int { return minCellSize << uint(class) }

// classFor returns the smallest class whose cell can hold size bytes.
func classFor(size int) (int, bool) {
	for c := 0; c < numClasses; c++ {
		if classSize(c) >= size {
			return c, true
		}
	}
	return 0, false
}

// sizeClass is one free-list-backed pool of fixed-size cells.
type sizeClass struct {
	mu    sync.Mutex
	cells []*cell // all cells ever allocated for this class (index == slot)
	free  []int   // slot indices available for reuse
}

// Arena is the process-wide (or per-tenant, if the caller partitions it)
// slab allocator. It is safe for concurrent use.
type Arena struct {
	classes [numClasses]*sizeClass
	epoch   *Epoch

	// budget, when non-nil, is consulted before growing a class with a
	// brand-new cell (as opposed to reusing a freed one). It lets the
	// governor (C3) gate arena growth without the arena importing governor.
	budget func(deltaBytes int) bool

	allocated atomic.Int64 // bytes currently allocated across all classes
}

// New constructs an Arena. budget, if non-nil, is called with the size of
// a prospective new cell before it is carved from the OS heap; returning
// false makes Allocate fail with ErrOOM instead of growing.
func New(budget func(deltaBytes int) bool) *Arena {
	a := &Arena{epoch: NewEpoch(), budget: budget}
	for i := range a.classes {
		a.classes[i] = &sizeClass{}
	}
	return a
}

// Epoch exposes the arena's reclamation epoch so index readers can enter
// and exit read-side critical sections around lookups.
func (a *Arena) Epoch() *Epoch { return a.epoch }

// AllocatedBytes reports the arena's current occupied byte total, the
// governor's accounting unit (spec.md invariant 2).
func (a *Arena) AllocatedBytes() int64 { return a.allocated.Load() }

// Allocate reserves a cell able to hold size bytes and returns a handle
// to it. The returned bytes are zeroed only for freshly grown cells;
// callers must fully overwrite reused cells before publishing a handle.
func (a *Arena) Allocate(size int) (Handle, error) {
	class, ok := classFor(size)
	if !ok {
		return nilHandle, ErrTooLarge
	}
	sc := a.classes[class]

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if n := len(sc.free); n > 0 {
		slot := sc.free[n-1]
		sc.free = sc.free[:n-1]
		c := sc.cells[slot]
		c.retired.Store(false)
		c.refcount.Store(0)
		a.allocated.Add(int64(classSize(class)))
		return packHandle(class, slot), nil
	}

	if a.budget != nil && !a.budget(classSize(class)) {
		return nilHandle, ErrOOM
	}
	slot := len(sc.cells)
	sc.cells = append(sc.cells, &cell{bytes: make([]byte, classSize(class))})
	a.allocated.Add(int64(classSize(class)))
	return packHandle(class, slot), nil
}

// cellAt resolves a handle to its backing cell. Panics on a stale/invalid
// handle: callers never hold a handle the index hasn't published or that
// has already been recycled past the epoch that protects them.
func (a *Arena) cellAt(h Handle) *cell {
	class, slot := h.unpack()
	sc := a.classes[class]
	sc.mu.Lock()
	c := sc.cells[slot]
	sc.mu.Unlock()
	return c
}

// With returns the live byte view for h. Valid only for the duration of
// the caller's current read section (see Epoch.Enter/Exit); the arena
// does not enforce this beyond the epoch's grace guarantee.
func (a *Arena) With(h Handle) []byte {
	c := a.cellAt(h)
	return c.bytes
}

// CellSize returns the capacity of the class backing h, useful for
// governor accounting without re-deriving it from the payload length.
func (a *Arena) CellSize(h Handle) int {
	class, _ := h.unpack()
	return classSize(class)
}

// Retire marks h for deferred recycling. The cell is not available for
// reuse until every reader that entered before the current epoch
// snapshot has exited (see Epoch). Retire never fails.
func (a *Arena) Retire(h Handle) {
	c := a.cellAt(h)
	if c.retired.Swap(true) {
		return // already retired; avoid double-accounting
	}
	class, _ := h.unpack()
	a.allocated.Add(-int64(classSize(class)))
	a.epoch.Defer(func() {
		a.recycle(h)
	})
}

// recycle returns a retired cell's slot to its class free list. Called
// only once the epoch guarantees no reader can still observe it.
func (a *Arena) recycle(h Handle) {
	class, slot := h.unpack()
	sc := a.classes[class]
	sc.mu.Lock()
	sc.free = append(sc.free, slot)
	sc.mu.Unlock()
}

// cellCount reports how many distinct slots a class has allocated so far,
// used by tests to assert free-list reuse rather than unbounded growth.
func (a *Arena) cellCount(class int) int {
	sc := a.classes[class]
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.cells)
}
