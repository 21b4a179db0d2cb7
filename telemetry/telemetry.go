// Package telemetry implements the hot-key cache's observability plane
// (C5): per-tenant and global atomic counters plus a fixed-bucket
// latency histogram for the read path. Generalizes a single global
// Metrics-sink shape to per-tenant accounting, since STATS must return
// both "global" and "per tenant" snapshots.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hybridkv/hotcache/internal/util"
)

// EvictReason explains why an entry was removed: pressure and
// invalidation alongside the more familiar TTL and admin reasons.
type EvictReason int

const (
	EvictPressure EvictReason = iota
	EvictTTL
	EvictInvalidation
	EvictAdmin
)

func (r EvictReason) String() string {
	switch r {
	case EvictPressure:
		return "pressure"
	case EvictTTL:
		return "ttl"
	case EvictInvalidation:
		return "invalidation"
	case EvictAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// latencyBuckets are upper bounds in microseconds for the read-path
// service-time histogram.
var latencyBuckets = []int64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// counters is updated on every request against its tenant (Hit/Miss on
// every read, Resize on every admission/eviction). Padding the hot
// scalar fields stops adjacent tenants' counters objects, or adjacent
// fields within one, from sharing a cache line under concurrent access.
type counters struct {
	hits       util.PaddedAtomicInt64
	misses     util.PaddedAtomicInt64
	admissions util.PaddedAtomicInt64
	refusals   util.PaddedAtomicInt64
	evicts     [4]atomic.Int64 // indexed by EvictReason; far lower frequency than hits/misses
	bytes      util.PaddedAtomicInt64
	entries    util.PaddedAtomicInt64

	latencyBuckets []atomic.Int64 // cumulative, parallel to latencyBuckets
	latencyCount   util.PaddedAtomicInt64
	latencySum     util.PaddedAtomicInt64 // microseconds
}

func newCounters() *counters {
	return &counters{latencyBuckets: make([]atomic.Int64, len(latencyBuckets))}
}

// Snapshot is a consistent point-in-time read of a counters set.
type Snapshot struct {
	Hits, Misses           int64
	Admissions, Refusals   int64
	Evictions              map[string]int64
	BytesInUse, EntryCount int64
	LatencyCount           int64
	LatencySumMicros       int64
}

func (c *counters) snapshot() Snapshot {
	s := Snapshot{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		Admissions:       c.admissions.Load(),
		Refusals:         c.refusals.Load(),
		BytesInUse:       c.bytes.Load(),
		EntryCount:       c.entries.Load(),
		LatencyCount:     c.latencyCount.Load(),
		LatencySumMicros: c.latencySum.Load(),
		Evictions:        make(map[string]int64, 4),
	}
	for i := range c.evicts {
		s.Evictions[EvictReason(i).String()] = c.evicts[i].Load()
	}
	return s
}

// Recorder is implemented by telemetry/prom's Adapter and by Telemetry
// itself, so a Telemetry value can be swapped for a Prometheus-backed
// one without changing call sites in the cache package.
type Recorder interface {
	Hit(tenant uint32)
	Miss(tenant uint32)
	Admit(tenant uint32)
	Refuse(tenant uint32)
	Evict(tenant uint32, reason EvictReason)
	Resize(tenant uint32, deltaBytes int64, deltaEntries int64)
	ObserveLatency(tenant uint32, d time.Duration)
}

// Telemetry is the in-process counters implementation of Recorder.
type Telemetry struct {
	global *counters

	mu      sync.RWMutex
	tenants map[uint32]*counters
}

// New builds an empty Telemetry.
func New() *Telemetry {
	return &Telemetry{global: newCounters(), tenants: make(map[uint32]*counters)}
}

func (t *Telemetry) tenantCounters(tenant uint32) *counters {
	t.mu.RLock()
	c, ok := t.tenants[tenant]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.tenants[tenant]; ok {
		return c
	}
	c = newCounters()
	t.tenants[tenant] = c
	return c
}

func (t *Telemetry) Hit(tenant uint32) {
	t.global.hits.Add(1)
	t.tenantCounters(tenant).hits.Add(1)
}

func (t *Telemetry) Miss(tenant uint32) {
	t.global.misses.Add(1)
	t.tenantCounters(tenant).misses.Add(1)
}

func (t *Telemetry) Admit(tenant uint32) {
	t.global.admissions.Add(1)
	t.tenantCounters(tenant).admissions.Add(1)
}

func (t *Telemetry) Refuse(tenant uint32) {
	t.global.refusals.Add(1)
	t.tenantCounters(tenant).refusals.Add(1)
}

func (t *Telemetry) Evict(tenant uint32, reason EvictReason) {
	t.global.evicts[reason].Add(1)
	t.tenantCounters(tenant).evicts[reason].Add(1)
}

// Resize updates resident byte/entry gauges, called on admission and
// on removal (with negative deltas).
func (t *Telemetry) Resize(tenant uint32, deltaBytes int64, deltaEntries int64) {
	t.global.bytes.Add(deltaBytes)
	t.global.entries.Add(deltaEntries)
	c := t.tenantCounters(tenant)
	c.bytes.Add(deltaBytes)
	c.entries.Add(deltaEntries)
}

// ObserveLatency records a read-path service time into the fixed-bucket
// histogram, both globally and per tenant.
func (t *Telemetry) ObserveLatency(tenant uint32, d time.Duration) {
	observe(t.global, d)
	observe(t.tenantCounters(tenant), d)
}

func observe(c *counters, d time.Duration) {
	micros := d.Microseconds()
	c.latencyCount.Add(1)
	c.latencySum.Add(micros)
	for i, bound := range latencyBuckets {
		if micros <= bound {
			c.latencyBuckets[i].Add(1)
		}
	}
}

// Global returns a consistent snapshot of global counters.
func (t *Telemetry) Global() Snapshot { return t.global.snapshot() }

// Tenant returns a consistent snapshot for tenant, or a zero Snapshot
// if the tenant has never been observed.
func (t *Telemetry) Tenant(tenant uint32) Snapshot {
	t.mu.RLock()
	c, ok := t.tenants[tenant]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{Evictions: map[string]int64{}}
	}
	return c.snapshot()
}
