package promote

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hybridkv/hotcache/cache"
	"github.com/hybridkv/hotcache/hotkey"
	"github.com/hybridkv/hotcache/telemetry"
)

type fakeStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	version map[string]uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string][]byte), version: make(map[string]uint64)}
}

func (s *fakeStore) set(tenant uint32, key string, value []byte, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(tenant, key)
	s.values[k] = value
	s.version[k] = version
}

func (s *fakeStore) Fetch(_ context.Context, tenant uint32, key []byte) ([]byte, uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(tenant, string(key))
	v, ok := s.values[k]
	if !ok {
		return nil, 0, false, nil
	}
	return v, s.version[k], true, nil
}

func storeKey(tenant uint32, key string) string {
	return fmt.Sprintf("%d:%s", tenant, key)
}

type fakeCache struct {
	mu       sync.Mutex
	snapshot map[uint32]telemetry.Snapshot
	batches  [][]cache.PromoteItem
	reject   map[string]bool // key -> force PromoteRejected
}

func newFakeCache() *fakeCache {
	return &fakeCache{snapshot: make(map[uint32]telemetry.Snapshot), reject: make(map[string]bool)}
}

func (f *fakeCache) Stats(tenant uint32, _ bool) telemetry.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot[tenant]
}

func (f *fakeCache) BatchPromote(_ context.Context, _ uint32, items []cache.PromoteItem) ([]cache.PromoteResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, items)
	f.mu.Unlock()

	results := make([]cache.PromoteResult, len(items))
	for i, item := range items {
		if f.reject[string(item.Key)] {
			results[i] = cache.PromoteResult{Key: item.Key, Status: cache.PromoteRejected, Reason: "pressure"}
			continue
		}
		results[i] = cache.PromoteResult{Key: item.Key, Status: cache.PromoteAdmitted}
	}
	return results, nil
}

type fakeTracker struct {
	mu         sync.Mutex
	candidates [][]hotkey.Candidate // one slice per Tick call, consumed in order
	penalized  []uint64
	ticks      int
}

func (f *fakeTracker) Tick(time.Time) []hotkey.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	if len(f.candidates) == 0 {
		return nil
	}
	next := f.candidates[0]
	f.candidates = f.candidates[1:]
	return next
}

func (f *fakeTracker) Penalize(fp uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.penalized = append(f.penalized, fp)
}

func TestManager_TickFetchesAndSubmitsCandidates(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.set(1, "hot", []byte("v1"), 7)

	fc := newFakeCache()
	ft := &fakeTracker{candidates: [][]hotkey.Candidate{
		{{Tenant: 1, Fingerprint: 0xA, Key: []byte("hot"), Rate: 500, ReadRatio: 0.99}},
	}}

	cfg := DefaultConfig()
	m := New(cfg, fc, ft, store)

	m.tick(context.Background(), time.Unix(1, 0))

	if len(fc.batches) != 1 || len(fc.batches[0]) != 1 {
		t.Fatalf("batches = %+v, want one batch of one item", fc.batches)
	}
	got := fc.batches[0][0]
	if string(got.Key) != "hot" || string(got.Value) != "v1" || got.Version != 7 {
		t.Fatalf("submitted item = %+v, want hot/v1/7", got)
	}
}

func TestManager_SkipsTenantWithoutHeadroom(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.set(1, "hot", []byte("v1"), 1)

	fc := newFakeCache()
	fc.snapshot[1] = telemetry.Snapshot{BytesInUse: 1000}

	ft := &fakeTracker{candidates: [][]hotkey.Candidate{
		{{Tenant: 1, Fingerprint: 0xA, Key: []byte("hot"), Rate: 500, ReadRatio: 0.99}},
	}}

	cfg := DefaultConfig()
	cfg.Tenants[1] = TenantConfig{HardCapBytes: 1000} // exactly full: no headroom
	m := New(cfg, fc, ft, store)

	m.tick(context.Background(), time.Unix(1, 0))

	if len(fc.batches) != 0 {
		t.Fatalf("batches = %+v, want none (tenant has no headroom)", fc.batches)
	}
}

func TestManager_RejectedItemPenalizesTracker(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.set(1, "hot", []byte("v1"), 1)

	fc := newFakeCache()
	fc.reject["hot"] = true

	ft := &fakeTracker{candidates: [][]hotkey.Candidate{
		{{Tenant: 1, Fingerprint: 0xBEEF, Key: []byte("hot"), Rate: 500, ReadRatio: 0.99}},
	}}

	m := New(DefaultConfig(), fc, ft, store)
	m.tick(context.Background(), time.Unix(1, 0))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.penalized) != 1 || ft.penalized[0] != 0xBEEF {
		t.Fatalf("penalized = %v, want [0xBEEF]", ft.penalized)
	}
}

func TestManager_MissingStoreEntryDropsCandidateWithoutFailingBatch(t *testing.T) {
	t.Parallel()
	store := newFakeStore() // empty: nothing found
	fc := newFakeCache()
	ft := &fakeTracker{candidates: [][]hotkey.Candidate{
		{{Tenant: 1, Fingerprint: 0xA, Key: []byte("ghost"), Rate: 500, ReadRatio: 0.99}},
	}}

	m := New(DefaultConfig(), fc, ft, store)
	m.tick(context.Background(), time.Unix(1, 0))

	if len(fc.batches) != 0 {
		t.Fatalf("batches = %+v, want none (candidate vanished from store)", fc.batches)
	}
}

func TestManager_RunInvokesTickerUntilCancelled(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	fc := newFakeCache()
	ft := &fakeTracker{}

	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	m := New(cfg, fc, ft, store)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	if err := m.Run(ctx); err == nil {
		t.Fatal("Run should return ctx.Err() once the deadline passes")
	}

	ft.mu.Lock()
	ticks := ft.ticks
	ft.mu.Unlock()
	if ticks == 0 {
		t.Fatal("expected at least one tick to have run before cancellation")
	}
}
