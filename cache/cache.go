// Package cache implements the hot-key cache's command surface: it
// assembles the arena, index, governor, ledger, telemetry, policy, and
// event packages into six synchronous operations — Read, Invalidate,
// BatchPromote, Purge, Stats, Configure — against a single
// fingerprint-keyed store backed by the arena/index pair instead of
// per-shard Go maps.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hybridkv/hotcache/arena"
	"github.com/hybridkv/hotcache/events"
	"github.com/hybridkv/hotcache/governor"
	"github.com/hybridkv/hotcache/index"
	"github.com/hybridkv/hotcache/internal/util"
	"github.com/hybridkv/hotcache/ledger"
	"github.com/hybridkv/hotcache/policy"
	"github.com/hybridkv/hotcache/policy/eviction/lru"
	"github.com/hybridkv/hotcache/policy/tenant"
	"github.com/hybridkv/hotcache/telemetry"
)

// maxEvictPerAdmission bounds the single reclaim-and-retry the governor
// performs on Reserve failure.
const maxEvictPerAdmission = 4

// tenantState holds the per-tenant policy instances Configure installs.
// Policy state is owned by C6 and never reaches into the arena/index
// directly; the cache orchestrator is the only caller of both the
// shared C1/C2/C3/C4 state and a tenant's policy hooks.
type tenantState struct {
	hooks       *fingerprintHooks
	eviction    policy.EvictionPolicy
	admission   policy.AdmissionPolicy
	hotness     policy.HotnessEstimator
	consistency ledger.ConsistencyMode
}

// Cache is the command surface assembling every lower component.
type Cache struct {
	cfg Config

	arena  *arena.Arena
	idx    *index.Index
	gov    *governor.Governor
	ledger *ledger.Ledger
	tel    *telemetry.Telemetry // concrete, for STATS snapshots
	rec    telemetry.Recorder   // fan-out of tel plus any external sinks
	events *events.Bus
	clock  Clock

	mu      sync.RWMutex
	tenants map[uint32]*tenantState
}

// New constructs a Cache. externalRecorders (e.g. a telemetry/prom
// Adapter) additionally receive every Recorder call alongside the
// cache's own in-process counters.
func New(cfg Config, externalRecorders ...telemetry.Recorder) *Cache {
	if cfg.TotalBytes <= 0 {
		cfg.TotalBytes = DefaultTotalBytes
	}
	if cfg.KeySizeMax <= 0 {
		cfg.KeySizeMax = DefaultKeySizeMax
	}
	if cfg.ValueSizeMax <= 0 {
		cfg.ValueSizeMax = DefaultValueSizeMax
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}

	c := &Cache{
		cfg:     cfg,
		tel:     telemetry.New(),
		events:  events.New(cfg.EventBuffer),
		clock:   cfg.Clock,
		tenants: make(map[uint32]*tenantState),
	}
	recs := append(multiRecorder{c.tel}, externalRecorders...)
	c.rec = recs

	ledgerOpts := []ledger.Option{
		ledger.WithClock(func() time.Time { return time.Unix(0, c.clock.NowUnixNano()) }),
	}
	if cfg.TombstoneGrace > 0 {
		ledgerOpts = append(ledgerOpts, ledger.WithTombstoneGrace(cfg.TombstoneGrace))
	}
	c.ledger = ledger.New(ledgerOpts...)

	c.gov = governor.New(cfg.TotalBytes, cfg.SoftWatermark, cfg.HardWatermark, c.reclaim)
	totalBytes := cfg.TotalBytes
	c.arena = arena.New(func(deltaBytes int) bool {
		return c.arena.AllocatedBytes()+int64(deltaBytes) <= totalBytes
	})
	c.idx = index.New(1024)
	return c
}

func (c *Cache) now() int64 { return c.clock.NowUnixNano() }

func (c *Cache) tenantState(tenant uint32) (*tenantState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.tenants[tenant]
	return ts, ok
}

// fingerprintFor combines tenant and key so distinct tenants never
// collide over the same key bytes in the shared index.
func fingerprintFor(tenant uint32, key []byte) uint64 {
	buf := make([]byte, 4+len(key))
	binary.LittleEndian.PutUint32(buf[0:4], tenant)
	copy(buf[4:], key)
	return util.Fingerprint(buf)
}

func nsTime(ns int64) time.Time { return time.Unix(0, ns) }

func toTelemetryReason(r policy.EvictReason) telemetry.EvictReason {
	switch r {
	case policy.EvictReasonTTL:
		return telemetry.EvictTTL
	case policy.EvictReasonInvalidation:
		return telemetry.EvictInvalidation
	case policy.EvictReasonAdmin:
		return telemetry.EvictAdmin
	default:
		return telemetry.EvictPressure
	}
}

func entryFromView(fp uint64, view arena.View, size int64) policy.Entry {
	return policy.Entry{
		Fingerprint: fp,
		Tenant:      view.Tenant,
		Size:        size,
		InsertedAt:  nsTime(view.Created),
		AccessedAt:  nsTime(view.Accessed),
		AccessCount: view.AccessCount,
	}
}

// ---- Configure ----

// Configure installs or replaces tenant's budget and policy selections
// (the CONFIGURE command).
func (c *Cache) Configure(tenant uint32, opts TenantOptions) error {
	if err := c.gov.RegisterTenant(tenant, opts.TenantConfig); err != nil {
		return errors.Join(ErrInvalidInput, err)
	}

	hooks := newFingerprintHooks()
	factory := opts.Eviction
	if factory == nil {
		factory = lru.New()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants[tenant] = &tenantState{
		hooks:       hooks,
		eviction:    factory.New(hooks),
		admission:   opts.Admission,
		hotness:     opts.Hotness,
		consistency: opts.Consistency,
	}
	return nil
}

// ---- Read ----

// ReadStatus is the outcome of a Read command.
type ReadStatus int

const (
	StatusMiss ReadStatus = iota
	StatusHit
	StatusStale
)

// ReadResult is what Read hands back for HIT/STALE outcomes; Value and
// Version are zero on MISS.
type ReadResult struct {
	Status  ReadStatus
	Value   []byte
	Version uint64
}

// Read implements READ(tenant, key, expected_version?).
func (c *Cache) Read(ctx context.Context, tenant uint32, key []byte, expectedVersion uint64) (ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return ReadResult{}, ErrTimeout
	}
	if len(key) == 0 || len(key) > c.cfg.KeySizeMax {
		return ReadResult{}, ErrInvalidInput
	}

	fp := fingerprintFor(tenant, key)
	start := c.now()
	defer func() { c.rec.ObserveLatency(tenant, time.Duration(c.now()-start)) }()

	g := c.arena.Epoch().Enter()
	defer c.arena.Epoch().Exit(g)

	h, ok := c.idx.Lookup(fp, key)
	if !ok {
		c.rec.Miss(tenant)
		c.onMissAdvisory(tenant, fp)
		return ReadResult{Status: StatusMiss}, nil
	}

	buf := c.arena.With(h)
	view := arena.Decode(buf)
	now := c.now()
	if view.Expiry != 0 && now >= view.Expiry {
		c.rec.Miss(tenant)
		c.onMissAdvisory(tenant, fp)
		c.removeAndAccount(fp, key, h, view, policy.EvictReasonTTL)
		return ReadResult{Status: StatusMiss}, nil
	}

	decision := c.ledger.Resolve(fp, view.Version, expectedVersion)
	value := append([]byte(nil), view.Value...)
	version := view.Version

	switch decision {
	case ledger.DecisionMiss:
		c.rec.Miss(tenant)
		c.onMissAdvisory(tenant, fp)
		return ReadResult{Status: StatusMiss}, nil
	case ledger.DecisionRefreshHint:
		c.promote(tenant, fp, h, view, now)
		c.rec.Hit(tenant)
		c.events.Emit(events.Event{Kind: events.RefreshHint, Tenant: tenant, Fingerprint: fp, At: nsTime(now)})
		return ReadResult{Status: StatusHit, Value: value, Version: version}, nil
	case ledger.DecisionStale:
		c.promote(tenant, fp, h, view, now)
		c.rec.Hit(tenant)
		return ReadResult{Status: StatusStale, Value: value, Version: version}, nil
	default: // DecisionHit
		c.promote(tenant, fp, h, view, now)
		c.rec.Hit(tenant)
		return ReadResult{Status: StatusHit, Value: value, Version: version}, nil
	}
}

func (c *Cache) onMissAdvisory(tenant uint32, fp uint64) {
	if ts, ok := c.tenantState(tenant); ok {
		ts.eviction.OnMiss(fp)
	}
}

func (c *Cache) promote(tenant uint32, fp uint64, h arena.Handle, view arena.View, now int64) {
	accessCount := view.AccessCount + 1
	arena.SetAccessed(c.arena.With(h), now, accessCount)
	ts, ok := c.tenantState(tenant)
	if !ok {
		return
	}
	ts.hooks.MoveToFront(fp)
	ts.eviction.OnHit(policy.Entry{
		Fingerprint: fp,
		Tenant:      tenant,
		Size:        int64(c.arena.CellSize(h)),
		InsertedAt:  nsTime(view.Created),
		AccessedAt:  nsTime(now),
		AccessCount: accessCount,
	})
	if ts.hotness != nil {
		ts.hotness.Observe(fp)
	}
}

// removeAndAccount unlinks (fp, key) from the index, retires its arena
// cell, and reverses governor/telemetry accounting. Shared by TTL expiry,
// strict invalidation, and PURGE.
func (c *Cache) removeAndAccount(fp uint64, key []byte, h arena.Handle, view arena.View, reason policy.EvictReason) {
	if _, ok := c.idx.Remove(fp, key); !ok {
		return
	}
	c.finishRemoval(fp, h, view, reason)
}

func (c *Cache) finishRemoval(fp uint64, h arena.Handle, view arena.View, reason policy.EvictReason) {
	size := int64(c.arena.CellSize(h))
	c.arena.Retire(h)
	c.gov.Release(view.Tenant, size)
	c.rec.Resize(view.Tenant, -size, -1)
	c.rec.Evict(view.Tenant, toTelemetryReason(reason))

	if ts, ok := c.tenantState(view.Tenant); ok {
		ts.hooks.Remove(fp)
		ts.eviction.OnEvict(entryFromView(fp, view, size), reason)
	}
	c.events.Emit(events.Event{
		Kind:        events.Evicted,
		Tenant:      view.Tenant,
		Fingerprint: fp,
		Reason:      toTelemetryReason(reason).String(),
		At:          nsTime(c.now()),
	})
}

// ---- Invalidate ----

// Invalidate implements INVALIDATE(tenant, key, new_version). Strict-mode
// tenants have their entry removed synchronously before this returns,
// satisfying the happens-before ordering guarantee against subsequent reads.
func (c *Cache) Invalidate(ctx context.Context, tenant uint32, key []byte, newVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return ErrTimeout
	}
	if len(key) == 0 || len(key) > c.cfg.KeySizeMax {
		return ErrInvalidInput
	}

	fp := fingerprintFor(tenant, key)
	mode := ledger.Strict
	if ts, ok := c.tenantState(tenant); ok {
		mode = ts.consistency
	}
	c.ledger.Invalidate(fp, newVersion, mode)

	if mode == ledger.Strict {
		if h, ok := c.idx.Remove(fp, key); ok {
			buf := c.arena.With(h)
			view := arena.Decode(buf)
			c.finishRemoval(fp, h, view, policy.EvictReasonInvalidation)
		}
	}
	return nil
}

// ---- BatchPromote ----

// PromoteItem is one entry of a BATCH_PROMOTE request.
type PromoteItem struct {
	Key     []byte
	Value   []byte
	Version uint64
	TTL     time.Duration // 0 disables expiration
}

// PromoteStatus is the per-item outcome of BatchPromote.
type PromoteStatus int

const (
	PromoteAdmitted PromoteStatus = iota
	PromoteRejected
	PromoteCanceled
)

// PromoteResult reports one item's outcome; Reason is set only when
// Status is PromoteRejected.
type PromoteResult struct {
	Key    []byte
	Status PromoteStatus
	Reason string
}

// BatchPromote implements BATCH_PROMOTE. Per-item failure
// never aborts the batch; on context expiry, already-committed items are
// retained and the remaining items are reported PromoteCanceled.
func (c *Cache) BatchPromote(ctx context.Context, tenant uint32, items []PromoteItem) ([]PromoteResult, error) {
	if len(items) > MaxBatchSize {
		return nil, ErrInvalidInput
	}
	ts, ok := c.tenantState(tenant)
	if !ok {
		return nil, ErrUnknownTenant
	}

	results := make([]PromoteResult, len(items))
	for i, item := range items {
		select {
		case <-ctx.Done():
			results[i] = PromoteResult{Key: item.Key, Status: PromoteCanceled}
			continue
		default:
		}
		results[i] = c.promoteOne(tenant, ts, item)
	}
	return results, nil
}

func rejected(key []byte, reason string) PromoteResult {
	return PromoteResult{Key: key, Status: PromoteRejected, Reason: reason}
}

func (c *Cache) promoteOne(tenant uint32, ts *tenantState, item PromoteItem) PromoteResult {
	if len(item.Key) == 0 || len(item.Key) > c.cfg.KeySizeMax || len(item.Value) > c.cfg.ValueSizeMax {
		return rejected(item.Key, "invalid_size")
	}

	fp := fingerprintFor(tenant, item.Key)
	if err := c.ledger.CheckAdmission(fp, item.Version); err != nil {
		c.rec.Refuse(tenant)
		return rejected(item.Key, "version_regression")
	}

	// Governor accounting is in arena cell bytes, the unit every Release
	// uses, so the encoded size is rounded up to its size class (64 B,
	// doubling).
	encoded := int64(arena.EncodedSize(len(item.Key), len(item.Value)))
	size := int64(64)
	for size < encoded {
		size <<= 1
	}
	if ts.admission != nil {
		candidate := policy.Candidate{Fingerprint: fp, Tenant: tenant, Size: size}
		victim, victimOK := c.peekVictim(ts)
		if !ts.admission.Admit(candidate, victim, victimOK) {
			c.rec.Refuse(tenant)
			return rejected(item.Key, "admission_denied")
		}
	}

	ok, err := c.gov.Reserve(tenant, size, maxEvictPerAdmission)
	if !ok {
		c.rec.Refuse(tenant)
		if errors.Is(err, governor.ErrAccountingFault) {
			return rejected(item.Key, "accounting_fault")
		}
		return rejected(item.Key, "pressure")
	}

	h, err := c.arena.Allocate(int(size))
	if err != nil {
		c.gov.Release(tenant, size)
		c.rec.Refuse(tenant)
		return rejected(item.Key, "oom")
	}

	now := c.now()
	var expiry int64
	if item.TTL > 0 {
		expiry = now + item.TTL.Nanoseconds()
	}
	buf := c.arena.With(h)
	arena.EncodeEntry(buf, fp, item.Version, tenant, expiry, now, now, 1, 0, item.Key, item.Value)

	res := c.idx.Insert(fp, item.Key, h)
	if res.Replaced {
		oldSize := int64(c.arena.CellSize(res.OldHandle))
		c.arena.Retire(res.OldHandle)
		c.gov.Release(tenant, oldSize)
		c.rec.Resize(tenant, -oldSize, -1)
		ts.hooks.Remove(fp)
	}
	if res.ShouldResize {
		c.idx.Resize()
	}

	c.ledger.Observe(fp, item.Version)
	ts.hooks.PushFront(fp)
	ts.eviction.OnInsert(policy.Entry{
		Fingerprint: fp,
		Tenant:      tenant,
		Size:        size,
		InsertedAt:  nsTime(now),
		AccessedAt:  nsTime(now),
		AccessCount: 1,
	})
	if ts.hotness != nil {
		ts.hotness.Observe(fp)
	}

	c.rec.Admit(tenant)
	c.rec.Resize(tenant, size, 1)
	return PromoteResult{Key: item.Key, Status: PromoteAdmitted}
}

// peekVictim resolves the tenant's current eviction candidate (its
// Hooks.Back) into a full policy.Candidate for TinyLFU-style admission
// comparisons, without unlinking it.
func (c *Cache) peekVictim(ts *tenantState) (policy.Candidate, bool) {
	fp, ok := ts.hooks.Back()
	if !ok {
		return policy.Candidate{}, false
	}
	h, _, ok := c.idx.LookupFingerprint(fp)
	if !ok {
		return policy.Candidate{}, false
	}
	view := arena.Decode(c.arena.With(h))
	return policy.Candidate{Fingerprint: fp, Tenant: view.Tenant, Size: int64(c.arena.CellSize(h))}, true
}

// ---- Purge ----

// Purge implements PURGE(tenant | global) and returns the number of
// entries removed.
func (c *Cache) Purge(tenant uint32, global bool) int {
	type victim struct {
		fp  uint64
		key []byte
	}
	var toRemove []victim
	c.idx.Range(func(fp uint64, key []byte, h arena.Handle) bool {
		view := arena.Decode(c.arena.With(h))
		if global || view.Tenant == tenant {
			toRemove = append(toRemove, victim{fp: fp, key: append([]byte(nil), key...)})
		}
		return true
	})

	count := 0
	for _, v := range toRemove {
		h, ok := c.idx.Remove(v.fp, v.key)
		if !ok {
			continue
		}
		view := arena.Decode(c.arena.With(h))
		c.finishRemoval(v.fp, h, view, policy.EvictReasonAdmin)
		c.ledger.Forget(v.fp)
		count++
	}
	return count
}

// ---- Stats ----

// Stats implements STATS(tenant?). global=true returns the cache-wide
// snapshot; otherwise the snapshot is scoped to tenant.
func (c *Cache) Stats(tenant uint32, global bool) telemetry.Snapshot {
	if global {
		return c.tel.Global()
	}
	return c.tel.Tenant(tenant)
}

// ---- reclaim (governor callback) ----

// reclaim is the governor's pressure-relief hook. It first tries
// priority preemption scoped to requester: if requester's tenant
// config outranks some tenant currently drawing on the shared pool
// (usage above its min guarantee), that tenant is reclaimed from
// directly, so a high-priority request can jump ahead of the fair-share
// ordering rather than wait its turn. If no such victim exists (no
// registered requester, nothing preemptable, or the preemption target
// didn't yield enough bytes), it falls back to reclaiming across all
// tenants ranked by how far each is over its fair share of the pool,
// breaking ties by priority. That fallback skips any tenant whose usage
// does not exceed its MinGuaranteeBytes.
func (c *Cache) reclaim(requester uint32, n int) int64 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.tenants))
	for id := range c.tenants {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	configs := c.gov.Configs()

	var freed int64
	remaining := n
	if reqCfg, ok := configs[requester]; ok {
		usedBytes := make(map[uint32]int64, len(ids))
		for _, id := range ids {
			usedBytes[id] = c.gov.TenantUsedBytes(id)
		}
		if victim, ok := tenant.SelectPreemptionVictim(reqCfg.Priority, configs, usedBytes); ok {
			f, evicted := c.evictFromTenant(victim, remaining)
			freed += f
			remaining -= evicted
		}
	}
	if remaining <= 0 {
		return freed
	}

	shares := tenant.ComputeShares(c.gov.TotalBytes(), configs)
	sort.Slice(ids, func(i, j int) bool {
		oi := c.gov.TenantUsedBytes(ids[i]) - shares[ids[i]]
		oj := c.gov.TenantUsedBytes(ids[j]) - shares[ids[j]]
		if oi != oj {
			return oi > oj
		}
		return configs[ids[i]].Priority < configs[ids[j]].Priority
	})

	for _, id := range ids {
		if remaining <= 0 {
			break
		}
		if !tenant.InSharedPool(configs[id], c.gov.TenantUsedBytes(id)) {
			continue
		}
		f, evicted := c.evictFromTenant(id, remaining)
		freed += f
		remaining -= evicted
	}
	return freed
}

func (c *Cache) evictFromTenant(tenant uint32, n int) (freedBytes int64, evicted int) {
	ts, ok := c.tenantState(tenant)
	if !ok {
		return 0, 0
	}
	victims := ts.eviction.SelectVictims(n, tenant, true)
	for _, fp := range victims {
		h, key, ok := c.idx.RemoveFingerprint(fp)
		if !ok {
			continue
		}
		view := arena.Decode(c.arena.With(h))
		size := int64(c.arena.CellSize(h))
		c.finishRemovalNoIndexRemove(fp, key, h, view, policy.EvictReasonPressure)
		freedBytes += size
		evicted++
	}
	return freedBytes, evicted
}

// finishRemovalNoIndexRemove mirrors finishRemoval for the eviction path,
// where the index entry has already been unlinked via RemoveFingerprint.
func (c *Cache) finishRemovalNoIndexRemove(fp uint64, _ []byte, h arena.Handle, view arena.View, reason policy.EvictReason) {
	c.finishRemoval(fp, h, view, reason)
}
