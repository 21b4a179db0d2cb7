package telemetry

import (
	"sync"
	"testing"
	"time"
)

func TestTelemetry_HitMissCountGlobalAndTenant(t *testing.T) {
	t.Parallel()

	tel := New()
	tel.Hit(1)
	tel.Hit(1)
	tel.Miss(1)
	tel.Hit(2)

	g := tel.Global()
	if g.Hits != 3 || g.Misses != 1 {
		t.Fatalf("global = %+v, want Hits=3 Misses=1", g)
	}
	s1 := tel.Tenant(1)
	if s1.Hits != 2 || s1.Misses != 1 {
		t.Fatalf("tenant 1 = %+v, want Hits=2 Misses=1", s1)
	}
	s2 := tel.Tenant(2)
	if s2.Hits != 1 || s2.Misses != 0 {
		t.Fatalf("tenant 2 = %+v, want Hits=1 Misses=0", s2)
	}
}

func TestTelemetry_EvictionsByReason(t *testing.T) {
	t.Parallel()

	tel := New()
	tel.Evict(1, EvictTTL)
	tel.Evict(1, EvictTTL)
	tel.Evict(1, EvictPressure)

	s := tel.Tenant(1)
	if s.Evictions["ttl"] != 2 {
		t.Fatalf("Evictions[ttl] = %d, want 2", s.Evictions["ttl"])
	}
	if s.Evictions["pressure"] != 1 {
		t.Fatalf("Evictions[pressure] = %d, want 1", s.Evictions["pressure"])
	}
	g := tel.Global()
	if g.Evictions["ttl"] != 2 || g.Evictions["pressure"] != 1 {
		t.Fatalf("global Evictions = %+v", g.Evictions)
	}
}

func TestTelemetry_ResizeTracksBytesAndEntries(t *testing.T) {
	t.Parallel()

	tel := New()
	tel.Resize(1, 100, 1)
	tel.Resize(1, 50, 1)
	tel.Resize(1, -30, -1)

	s := tel.Tenant(1)
	if s.BytesInUse != 120 || s.EntryCount != 1 {
		t.Fatalf("tenant 1 = %+v, want BytesInUse=120 EntryCount=1", s)
	}
}

func TestTelemetry_ObserveLatencyAccumulates(t *testing.T) {
	t.Parallel()

	tel := New()
	tel.ObserveLatency(1, 5*time.Microsecond)
	tel.ObserveLatency(1, 50*time.Microsecond)

	s := tel.Tenant(1)
	if s.LatencyCount != 2 {
		t.Fatalf("LatencyCount = %d, want 2", s.LatencyCount)
	}
	if s.LatencySumMicros != 55 {
		t.Fatalf("LatencySumMicros = %d, want 55", s.LatencySumMicros)
	}
}

func TestTelemetry_UnknownTenantIsZeroValue(t *testing.T) {
	t.Parallel()

	tel := New()
	s := tel.Tenant(999)
	if s.Hits != 0 || s.Misses != 0 || len(s.Evictions) != 0 {
		t.Fatalf("unknown tenant snapshot = %+v, want zero", s)
	}
}

func TestTelemetry_ConcurrentUpdates(t *testing.T) {
	t.Parallel()

	tel := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				tel.Hit(1)
			}
		}()
	}
	wg.Wait()

	if got := tel.Global().Hits; got != 16*500 {
		t.Fatalf("Global().Hits = %d, want %d", got, 16*500)
	}
}
