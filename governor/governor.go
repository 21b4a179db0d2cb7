// Package governor implements the hot-key cache's memory governor (C3):
// global and per-tenant byte budgets, soft/hard watermarks, and the
// guarded fallback that fences admissions on accounting drift.
package governor

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hybridkv/hotcache/internal/util"
)

// ErrPressure is returned by Reserve when the requested bytes cannot be
// granted even after the caller's retry. It is an ordinary outcome, not a
// fault.
var ErrPressure = errors.New("governor: insufficient budget")

// ErrUnknownTenant is returned for operations against an unregistered tenant id.
var ErrUnknownTenant = errors.New("governor: unknown tenant")

// ErrAccountingFault signals that tracked usage no longer reconciles
// with the arena's view of occupied bytes — a classifier bug, not a
// capacity problem. It fences admissions until Reconcile is called.
var ErrAccountingFault = errors.New("governor: accounting fault")

const (
	// DefaultSoftWatermark is the fraction of the global budget at which
	// background eviction should be scheduled.
	DefaultSoftWatermark = 0.80
	// DefaultHardWatermark is the fraction of the global budget above
	// which admissions are denied outright.
	DefaultHardWatermark = 1.00
)

// TenantConfig is a tenant's budget configuration.
type TenantConfig struct {
	HardCapBytes     int64
	MinGuaranteeBytes int64
	Weight           float64
	Priority         uint8 // 0..3, higher evicts lower in the shared pool
}

// tenantState is allocated once per registered tenant and stored by
// pointer in Governor.tenants, so each tenant's used counter already
// sits on its own heap object; padding it to a cache line additionally
// stops it from sharing a line with cfg, which every Reserve/Release
// call also reads.
type tenantState struct {
	cfg  TenantConfig
	used util.PaddedAtomicInt64
}

// Governor tracks global and per-tenant byte usage and enforces watermarks.
type Governor struct {
	totalBytes int64
	soft       float64
	hard       float64

	mu      sync.RWMutex
	tenants map[uint32]*tenantState

	_ util.CacheLinePad // separates the tenant map/mutex from the counters below

	used  util.PaddedAtomicInt64 // global bytes in use, updated on every Reserve/Release
	fence atomic.Bool            // set by a detected accounting fault

	// reclaim is supplied by the cache orchestrator (C7) and asks the
	// policy plane to evict up to n victims on behalf of requester,
	// returning bytes actually freed. requester lets the policy plane
	// attempt priority preemption (evict a lower-priority tenant's
	// shared-pool usage) before falling back to fair-share eviction.
	reclaim func(requester uint32, n int) int64
}

// New constructs a Governor with the given global byte budget. soft/hard
// default to 0.80/1.00 when zero.
func New(totalBytes int64, soft, hard float64, reclaim func(requester uint32, n int) int64) *Governor {
	if soft <= 0 {
		soft = DefaultSoftWatermark
	}
	if hard <= 0 {
		hard = DefaultHardWatermark
	}
	return &Governor{
		totalBytes: totalBytes,
		soft:       soft,
		hard:       hard,
		tenants:    make(map[uint32]*tenantState),
		reclaim:    reclaim,
	}
}

// RegisterTenant adds or replaces a tenant's budget configuration.
// Invariant: callers must keep Σ MinGuaranteeBytes ≤ total budget; the
// governor validates this across all currently registered tenants.
func (g *Governor) RegisterTenant(id uint32, cfg TenantConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sum := cfg.MinGuaranteeBytes
	for tid, ts := range g.tenants {
		if tid == id {
			continue
		}
		sum += ts.cfg.MinGuaranteeBytes
	}
	if sum > g.totalBytes {
		return errors.New("governor: sum of tenant min guarantees would exceed total budget")
	}

	ts, ok := g.tenants[id]
	if !ok {
		ts = &tenantState{}
		g.tenants[id] = ts
	}
	ts.cfg = cfg
	return nil
}

func (g *Governor) tenant(id uint32) (*tenantState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ts, ok := g.tenants[id]
	return ts, ok
}

// UsedBytes reports current global usage.
func (g *Governor) UsedBytes() int64 { return g.used.Load() }

// TenantUsedBytes reports a tenant's current usage, or 0 if unknown.
func (g *Governor) TenantUsedBytes(id uint32) int64 {
	ts, ok := g.tenant(id)
	if !ok {
		return 0
	}
	return ts.used.Load()
}

// Fenced reports whether the governor is refusing admissions pending Reconcile.
func (g *Governor) Fenced() bool { return g.fence.Load() }

// SoftWatermarkCrossed reports whether global usage exceeds the soft mark,
// signaling that background eviction should be scheduled.
func (g *Governor) SoftWatermarkCrossed() bool {
	return float64(g.used.Load()) > g.soft*float64(g.totalBytes)
}

// hardWatermarkWouldBeCrossed reports whether granting size bytes would
// push global usage past the hard mark.
func (g *Governor) hardWatermarkWouldBeCrossed(size int64) bool {
	return float64(g.used.Load()+size) > g.hard*float64(g.totalBytes)
}

// Reserve grants or denies size bytes for tenant. On denial the caller
// may ask for up to maxEvict victims via the supplied reclaim hook and
// retry exactly once; Reserve performs that retry itself when maxEvict
// > 0 so callers get a single synchronous call.
func (g *Governor) Reserve(tenant uint32, size int64, maxEvict int) (bool, error) {
	if g.fence.Load() {
		return false, ErrAccountingFault
	}
	ts, ok := g.tenant(tenant)
	if !ok {
		return false, ErrUnknownTenant
	}

	if g.tryReserve(ts, size) {
		return true, nil
	}

	if maxEvict <= 0 || g.reclaim == nil {
		return false, ErrPressure
	}
	g.reclaim(tenant, maxEvict)
	if g.tryReserve(ts, size) {
		return true, nil
	}
	return false, ErrPressure
}

func (g *Governor) tryReserve(ts *tenantState, size int64) bool {
	if ts.cfg.HardCapBytes > 0 && ts.used.Load()+size > ts.cfg.HardCapBytes {
		return false
	}
	if g.hardWatermarkWouldBeCrossed(size) {
		return false
	}
	ts.used.Add(size)
	g.used.Add(size)
	return true
}

// Release returns size bytes to tenant's and the global budget, e.g. on
// eviction or invalidation removal.
func (g *Governor) Release(tenant uint32, size int64) {
	ts, ok := g.tenant(tenant)
	if !ok {
		return
	}
	ts.used.Add(-size)
	g.used.Add(-size)
	if ts.used.Load() < 0 || g.used.Load() < 0 {
		g.fence.Store(true)
	}
}

// Reconcile clears the accounting-fault fence after the caller has
// restored usage counters to match the arena's true occupancy (typically
// via Resync).
func (g *Governor) Reconcile() { g.fence.Store(false) }

// Resync overwrites tracked usage with an authoritative snapshot,
// typically arena.AllocatedBytes() and a per-tenant recomputation walked
// from the index. Used to recover from ErrAccountingFault.
func (g *Governor) Resync(tenant uint32, bytes int64) {
	ts, ok := g.tenant(tenant)
	if !ok {
		return
	}
	delta := bytes - ts.used.Swap(bytes)
	g.used.Add(delta)
}

// PreemptionAllowed reports whether a request from higher may evict an
// entry belonging to lower within the shared (non-guaranteed) pool.
func PreemptionAllowed(higher, lower TenantConfig) bool {
	return higher.Priority > lower.Priority
}

// TotalBytes reports the global byte budget, needed by callers (the
// policy plane's proportional-share computation) that rank tenants
// relative to the whole pool rather than just each other.
func (g *Governor) TotalBytes() int64 { return g.totalBytes }

// Configs returns a snapshot of every registered tenant's budget
// configuration, keyed by tenant id.
func (g *Governor) Configs() map[uint32]TenantConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[uint32]TenantConfig, len(g.tenants))
	for id, ts := range g.tenants {
		out[id] = ts.cfg
	}
	return out
}
