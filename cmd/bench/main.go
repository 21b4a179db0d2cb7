// Command bench runs a synthetic Zipf-skewed workload against the
// hot-key cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hybridkv/hotcache/cache"
	"github.com/hybridkv/hotcache/config"
	"github.com/hybridkv/hotcache/hotkey"
	"github.com/hybridkv/hotcache/promote"
	promtel "github.com/hybridkv/hotcache/telemetry/prom"
)

const tenant uint32 = 1

// authoritativeStore is a trivial in-memory stand-in for the real
// backing store the promotion manager fetches current values from.
type authoritativeStore struct {
	mu   sync.RWMutex
	data map[string]storedValue
}

type storedValue struct {
	value   []byte
	version uint64
}

func newAuthoritativeStore() *authoritativeStore {
	return &authoritativeStore{data: make(map[string]storedValue)}
}

func (s *authoritativeStore) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.data[key]
	s.data[key] = storedValue{value: value, version: prev.version + 1}
}

func (s *authoritativeStore) Fetch(_ context.Context, _ uint32, key []byte) ([]byte, uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, 0, false, nil
	}
	return v.value, v.version, true, nil
}

func main() {
	var (
		configFile  = flag.String("config", "", "YAML config file (overrides -eviction/-admission/-consistency)")
		hardCap     = flag.Int64("cap-bytes", 64<<20, "tenant hard cap in bytes")
		eviction    = flag.String("eviction", "lru", "eviction policy: lru|fifo|lfu|slru|twoq")
		admission   = flag.String("admission", "threshold", "admission policy: threshold|tinylfu|size_aware")
		consistency = flag.String("consistency", "strict", "consistency mode: strict|bounded|version|async_refresh")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys  = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	recorder := promtel.New(nil, "hotcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	tenantCfg := config.TenantConfig{
		HardCapBytes: *hardCap,
		Eviction:     *eviction,
		Admission:    *admission,
		Consistency:  *consistency,
	}
	cacheCfg := config.DefaultCacheConfig()
	if *configFile != "" {
		doc, err := config.LoadFile(*configFile)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cacheCfg = doc.Cache
		if tc, ok := doc.Tenants[tenant]; ok {
			tenantCfg = tc
		}
	}

	c := cache.New(cacheCfg.ToCacheConfig(nil), recorder)
	tenantOpts, err := tenantCfg.ToTenantOptions()
	if err != nil {
		log.Fatalf("resolve tenant options: %v", err)
	}
	if err := c.Configure(tenant, tenantOpts); err != nil {
		log.Fatalf("configure tenant: %v", err)
	}

	store := newAuthoritativeStore()
	tracker := hotkey.New(hotkey.DefaultConfig())
	manager := promote.New(promote.Config{
		Interval: hotkey.DefaultPromoteInterval,
		TopK:     100,
		Tenants:  map[uint32]promote.TenantConfig{tenant: {HardCapBytes: *hardCap}},
		Logger:   log.Default(),
	}, c, tracker, store)

	promoteCtx, stopPromote := context.WithCancel(context.Background())
	defer stopPromote()
	go func() {
		if err := manager.Run(promoteCtx); err != nil && err != context.Canceled {
			log.Printf("promotion manager stopped: %v", err)
		}
	}()

	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	var reads, writes, hits, misses, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyFor := func() string { return "k:" + strconv.FormatUint(localZipf.Uint64(), 10) }

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				key := keyFor()
				fp := fingerprint(tenant, key)

				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					res, err := c.Read(ctx, tenant, []byte(key), 0)
					isHit := err == nil && res.Status == cache.StatusHit
					if isHit {
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
					tracker.Observe(tenant, []byte(key), fp, true, len(res.Value))
				} else {
					atomic.AddUint64(&writes, 1)
					value := []byte("v" + strconv.Itoa(localR.Int()))
					store.Set(key, value)
					tracker.Observe(tenant, []byte(key), fp, false, len(value))
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	snap := c.Stats(tenant, false)
	fmt.Printf("eviction=%s admission=%s consistency=%s cap-bytes=%d workers=%d keys=%d dur=%v seed=%d\n",
		*eviction, *admission, *consistency, *hardCap, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)
	fmt.Printf("resident bytes=%d  entries=%d  admissions=%d  refusals=%d\n",
		snap.BytesInUse, snap.EntryCount, snap.Admissions, snap.Refusals)
}

// fingerprint hashes tenant||key into a stable per-(tenant,key)
// identifier the bench harness feeds to the hot-key tracker; it is not
// the hash the cache computes internally.
func fingerprint(tenant uint32, key string) uint64 {
	h := uint64(1469598103934665603) // FNV-1a offset basis, distinct from
	// the cache's own xxhash-based fingerprinting: the tracker's
	// candidate fingerprints only need to be a stable per-(tenant,key)
	// identifier for this bench harness, not the same hash the cache
	// uses internally.
	mix := func(b byte) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	mix(byte(tenant))
	mix(byte(tenant >> 8))
	mix(byte(tenant >> 16))
	mix(byte(tenant >> 24))
	for i := 0; i < len(key); i++ {
		mix(key[i])
	}
	return h
}
