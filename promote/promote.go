// Package promote implements the hot-key cache's promotion manager: a
// periodic control loop that asks the hot-key tracker for its current
// top candidates, fetches their authoritative values from the backing
// store, and submits them through the cache's BatchPromote command.
// Concurrent per-tenant store fetches fan out with
// golang.org/x/sync/errgroup.
package promote

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hybridkv/hotcache/cache"
	"github.com/hybridkv/hotcache/hotkey"
	"github.com/hybridkv/hotcache/internal/singleflight"
	"github.com/hybridkv/hotcache/telemetry"
)

// errNotFound is returned internally by fetchItem when the store no
// longer has the candidate key; the candidate is dropped from that
// window's batch rather than failing the whole tenant's submission.
var errNotFound = errors.New("promote: candidate not found in store")

// Store is the collaborator the promotion manager asks for a
// candidate's authoritative current value and version (spec.md §4.10).
type Store interface {
	Fetch(ctx context.Context, tenant uint32, key []byte) (value []byte, version uint64, ok bool, err error)
}

// CacheAPI is the subset of *cache.Cache the manager depends on,
// narrowed to an interface so tests can substitute a fake.
type CacheAPI interface {
	Stats(tenant uint32, global bool) telemetry.Snapshot
	BatchPromote(ctx context.Context, tenant uint32, items []cache.PromoteItem) ([]cache.PromoteResult, error)
}

// Tracker is the subset of *hotkey.Tracker the manager depends on.
type Tracker interface {
	Tick(now time.Time) []hotkey.Candidate
	Penalize(fp uint64)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

type systemClock struct{}

func (systemClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// TenantConfig bounds how much of a tenant's budget the manager will
// promote into before backing off for the rest of a window.
type TenantConfig struct {
	HardCapBytes int64 // 0 means unbounded; headroom check is skipped
}

// Config tunes a Manager.
type Config struct {
	Interval time.Duration
	TopK     int
	Tenants  map[uint32]TenantConfig
	Clock    Clock
	Logger   *log.Logger
}

// DefaultConfig mirrors hotkey.DefaultConfig's PromoteInterval so the
// tracker and manager stay in lockstep by default.
func DefaultConfig() Config {
	return Config{
		Interval: hotkey.DefaultPromoteInterval,
		TopK:     50,
		Tenants:  make(map[uint32]TenantConfig),
		Clock:    systemClock{},
		Logger:   log.New(io.Discard, "", 0),
	}
}

// Manager runs the promotion control loop described in spec.md §4.10.
type Manager struct {
	cfg     Config
	cache   CacheAPI
	tracker Tracker
	store   Store
	sf      singleflight.Group[uint64, cache.PromoteItem]
}

// New builds a Manager. A zero Config.Clock/Logger/Interval/TopK falls
// back to DefaultConfig's values.
func New(cfg Config, c CacheAPI, tracker Tracker, store Store) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = hotkey.DefaultPromoteInterval
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 50
	}
	if cfg.Tenants == nil {
		cfg.Tenants = make(map[uint32]TenantConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Manager{cfg: cfg, cache: c, tracker: tracker, store: store}
}

// Run drives the promotion loop until ctx is cancelled. Each tick is
// dispatched onto its own goroutine so a slow store fetch never delays
// the next tick; overlapping ticks targeting the same fingerprint are
// coalesced by the singleflight-guarded fetch in submitTenantBatch.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			wg.Add(1)
			go func(now time.Time) {
				defer wg.Done()
				m.tick(ctx, now)
			}(now)
		}
	}
}

func (m *Manager) tick(ctx context.Context, now time.Time) {
	candidates := m.tracker.Tick(now)
	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Rate > candidates[j].Rate })
	if len(candidates) > m.cfg.TopK {
		candidates = candidates[:m.cfg.TopK]
	}

	byTenant := make(map[uint32][]hotkey.Candidate)
	for _, c := range candidates {
		if !m.hasHeadroom(c.Tenant) {
			continue
		}
		byTenant[c.Tenant] = append(byTenant[c.Tenant], c)
	}

	for tenant, cands := range byTenant {
		m.submitTenantBatch(ctx, tenant, cands)
	}
}

func (m *Manager) hasHeadroom(tenant uint32) bool {
	tc, ok := m.cfg.Tenants[tenant]
	if !ok || tc.HardCapBytes <= 0 {
		return true
	}
	used := m.cache.Stats(tenant, false).BytesInUse
	return used < tc.HardCapBytes
}

func (m *Manager) submitTenantBatch(ctx context.Context, tenant uint32, cands []hotkey.Candidate) {
	g, gctx := errgroup.WithContext(ctx)
	items := make([]cache.PromoteItem, len(cands))
	fps := make([]uint64, len(cands))
	ok := make([]bool, len(cands))

	for i, c := range cands {
		i, c := i, c
		fps[i] = c.Fingerprint
		g.Go(func() error {
			item, err := m.fetchItem(gctx, tenant, c)
			if err != nil {
				m.cfg.Logger.Printf("promote: fetch tenant=%d fp=%x: %v", tenant, c.Fingerprint, err)
				return nil
			}
			items[i] = item
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait() // per-item fetch errors are logged and dropped, never abort the batch

	var batch []cache.PromoteItem
	var batchFPs []uint64
	for i := range items {
		if ok[i] {
			batch = append(batch, items[i])
			batchFPs = append(batchFPs, fps[i])
		}
	}
	if len(batch) == 0 {
		return
	}

	results, err := m.cache.BatchPromote(ctx, tenant, batch)
	if err != nil {
		m.cfg.Logger.Printf("promote: batch promote tenant=%d: %v", tenant, err)
		return
	}
	for i, res := range results {
		if res.Status == cache.PromoteRejected {
			m.tracker.Penalize(batchFPs[i])
		}
	}
}

// fetchItem coalesces concurrent fetches for the same fingerprint
// across overlapping windows, so a store read in flight for a hot
// fingerprint isn't issued twice.
func (m *Manager) fetchItem(ctx context.Context, tenant uint32, c hotkey.Candidate) (cache.PromoteItem, error) {
	return m.sf.Do(ctx, c.Fingerprint, func() (cache.PromoteItem, error) {
		value, version, found, err := m.store.Fetch(ctx, tenant, c.Key)
		if err != nil {
			return cache.PromoteItem{}, err
		}
		if !found {
			return cache.PromoteItem{}, errNotFound
		}
		return cache.PromoteItem{Key: c.Key, Value: value, Version: version}, nil
	})
}
