// Package config implements the hot-key cache's CONFIGURE surface
// (spec.md §6 expansion, SPEC_FULL.md §6): typed CacheConfig/TenantConfig
// structs covering the full enumerated option list, TLV encode/decode
// for the wire CONFIGURE payload, and YAML loading for developer
// convenience (`cmd/bench --config file.yaml`), grounded on
// Borislavv-go-ash-cache's yaml-tagged config structs — the only pack
// example that configures a cache from a file rather than flags.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hybridkv/hotcache/cache"
	"github.com/hybridkv/hotcache/governor"
	"github.com/hybridkv/hotcache/ledger"
	"github.com/hybridkv/hotcache/policy"
	"github.com/hybridkv/hotcache/policy/admission/sizeaware"
	"github.com/hybridkv/hotcache/policy/admission/threshold"
	"github.com/hybridkv/hotcache/policy/admission/tinylfu"
	"github.com/hybridkv/hotcache/policy/eviction/fifo"
	"github.com/hybridkv/hotcache/policy/eviction/lfu"
	"github.com/hybridkv/hotcache/policy/eviction/lru"
	"github.com/hybridkv/hotcache/policy/eviction/slru"
	"github.com/hybridkv/hotcache/policy/eviction/twoq"
	"github.com/hybridkv/hotcache/policy/hotness/cms"
	"github.com/hybridkv/hotcache/policy/hotness/reservoir"
	"github.com/hybridkv/hotcache/policy/hotness/tiered"
	"github.com/hybridkv/hotcache/protocol"
)

// Defaults for the eviction/admission tunables the CONFIGURE option
// list names only by algorithm, not by internal parameter; these mirror
// typical values passed to the equivalent constructors elsewhere.
const (
	DefaultSLRUProtectedCapacity = 1000
	DefaultTwoQInCapacity        = 200
	DefaultTwoQGhostCapacity     = 500
	DefaultThresholdK            = 10
	DefaultSizeAwareClassSize    = 64
	DefaultSizeAwareMaxProduct   = 1 << 20
	DefaultHotnessSketchWidth    = cms.DefaultHalvingPeriod / 64
	DefaultReservoirSize         = 10000
	DefaultTieredMaxTier         = 1000
)

// CacheConfig is the "cache.*" option group (spec.md §6).
type CacheConfig struct {
	TotalBytes        int64   `yaml:"total_bytes"`
	ValueSizeMax      int     `yaml:"value_size_max"`
	KeySizeMax        int     `yaml:"key_size_max"`
	SoftWatermark     float64 `yaml:"soft_watermark"`
	HardWatermark     float64 `yaml:"hard_watermark"`
	PromoteIntervalMs int     `yaml:"promote_interval_ms"`
	HotRateMin        float64 `yaml:"hot_rate_min"`
	ReadRatioMin      float64 `yaml:"read_ratio_min"`
	StaleGraceMs      int     `yaml:"stale_grace_ms"`
}

// DefaultCacheConfig returns the defaults enumerated in spec.md §6.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TotalBytes:        256 << 20,
		ValueSizeMax:      1024,
		KeySizeMax:        256,
		SoftWatermark:     0.80,
		HardWatermark:     1.00,
		PromoteIntervalMs: 5000,
		HotRateMin:        100,
		ReadRatioMin:      0.90,
		StaleGraceMs:      5000,
	}
}

// ToCacheConfig builds a cache.Config from the parsed options.
func (c CacheConfig) ToCacheConfig(clock cache.Clock) cache.Config {
	cfg := cache.DefaultConfig()
	cfg.TotalBytes = c.TotalBytes
	cfg.ValueSizeMax = c.ValueSizeMax
	cfg.KeySizeMax = c.KeySizeMax
	cfg.SoftWatermark = c.SoftWatermark
	cfg.HardWatermark = c.HardWatermark
	cfg.TombstoneGrace = time.Duration(c.StaleGraceMs) * time.Millisecond
	if clock != nil {
		cfg.Clock = clock
	}
	return cfg
}

// TenantConfig is one "tenant.<id>.*" option group (spec.md §6).
type TenantConfig struct {
	ID                 uint32
	HardCapBytes       int64   `yaml:"hard_cap_bytes"`
	MinGuaranteeBytes  int64   `yaml:"min_guarantee_bytes"`
	Weight             float64 `yaml:"weight"`
	Priority           uint8   `yaml:"priority"`
	Eviction           string  `yaml:"eviction"`    // lru|lfu|slru|twoq|fifo
	Admission          string  `yaml:"admission"`   // threshold|tinylfu|size_aware
	Hotness            string  `yaml:"hotness"`     // cms|reservoir|tiered
	Consistency        string  `yaml:"consistency"` // strict|bounded|version|async_refresh
	BoundedStalenessMs int     `yaml:"bounded_staleness_ms"`
}

// ToTenantOptions resolves the named eviction/admission/consistency
// strings into concrete policy instances and builds a cache.TenantOptions
// ready for Cache.Configure. Each tenant gets its own hotness estimator
// so admission ranking and the CONFIGURE-selected admission policy share
// state, matching spec.md §4.6's "policy state is per-tenant" rule.
func (t TenantConfig) ToTenantOptions() (cache.TenantOptions, error) {
	estimator, err := resolveHotness(t.Hotness)
	if err != nil {
		return cache.TenantOptions{}, err
	}

	evictionFactory, err := resolveEviction(t.Eviction)
	if err != nil {
		return cache.TenantOptions{}, err
	}
	admissionPolicy, err := resolveAdmission(t.Admission, estimator)
	if err != nil {
		return cache.TenantOptions{}, err
	}
	mode, err := resolveConsistency(t.Consistency)
	if err != nil {
		return cache.TenantOptions{}, err
	}

	return cache.TenantOptions{
		TenantConfig: governor.TenantConfig{
			HardCapBytes:      t.HardCapBytes,
			MinGuaranteeBytes: t.MinGuaranteeBytes,
			Weight:            t.Weight,
			Priority:          t.Priority,
		},
		Eviction:         evictionFactory,
		Admission:        admissionPolicy,
		Hotness:          estimator,
		Consistency:      mode,
		BoundedStaleness: time.Duration(t.BoundedStalenessMs) * time.Millisecond,
	}, nil
}

func resolveEviction(name string) (policy.Factory, error) {
	switch name {
	case "", "lru":
		return lru.New(), nil
	case "fifo":
		return fifo.New(), nil
	case "lfu":
		return lfu.New(), nil
	case "slru":
		return slru.New(DefaultSLRUProtectedCapacity), nil
	case "twoq":
		return twoq.New(DefaultTwoQInCapacity, DefaultTwoQGhostCapacity), nil
	default:
		return nil, fmt.Errorf("config: unknown eviction policy %q", name)
	}
}

func resolveHotness(name string) (policy.HotnessEstimator, error) {
	switch name {
	case "", "cms":
		return cms.New(DefaultHotnessSketchWidth), nil
	case "reservoir":
		return reservoir.New(DefaultReservoirSize), nil
	case "tiered":
		return tiered.New(DefaultTieredMaxTier, DefaultHotnessSketchWidth), nil
	default:
		return nil, fmt.Errorf("config: unknown hotness estimator %q", name)
	}
}

func resolveAdmission(name string, estimator policy.HotnessEstimator) (policy.AdmissionPolicy, error) {
	switch name {
	case "", "threshold":
		return threshold.New(DefaultThresholdK, estimator), nil
	case "tinylfu":
		return tinylfu.New(estimator), nil
	case "size_aware":
		return sizeaware.New(estimator, DefaultSizeAwareClassSize, DefaultSizeAwareMaxProduct), nil
	default:
		return nil, fmt.Errorf("config: unknown admission policy %q", name)
	}
}

func resolveConsistency(name string) (ledger.ConsistencyMode, error) {
	switch name {
	case "", "strict":
		return ledger.Strict, nil
	case "bounded":
		return ledger.Bounded, nil
	case "version":
		return ledger.VersionCheck, nil
	case "async_refresh":
		return ledger.AsyncRefresh, nil
	default:
		return 0, fmt.Errorf("config: unknown consistency mode %q", name)
	}
}

// Document is the full CONFIGURE payload: the global cache options plus
// zero or more per-tenant option groups.
type Document struct {
	Cache   CacheConfig             `yaml:"cache"`
	Tenants map[uint32]TenantConfig `yaml:"tenants"`
}

// DefaultDocument returns a Document with CacheConfig defaults and no
// tenants configured.
func DefaultDocument() Document {
	return Document{Cache: DefaultCacheConfig(), Tenants: make(map[uint32]TenantConfig)}
}

// Load parses a YAML configuration document (cmd/bench --config file.yaml).
func Load(r io.Reader) (Document, error) {
	doc := DefaultDocument()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return Document{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if doc.Tenants == nil {
		doc.Tenants = make(map[uint32]TenantConfig)
	}
	for id, tc := range doc.Tenants {
		tc.ID = id
		doc.Tenants[id] = tc
	}
	return doc, nil
}

// LoadFile opens path and parses it as YAML.
func LoadFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// DecodeTLV interprets a CONFIGURE command's TLV payload (spec.md §6:
// "cache.*" and "tenant.<id>.*" dotted option names) into a Document.
func DecodeTLV(entries []protocol.TLVEntry) (Document, error) {
	doc := DefaultDocument()
	for _, e := range entries {
		if err := doc.applyOption(e.Key, string(e.Value)); err != nil {
			return Document{}, err
		}
	}
	return doc, nil
}

// EncodeTLV serializes doc back into CONFIGURE's flat dotted-key TLV form.
func EncodeTLV(doc Document) []protocol.TLVEntry {
	var entries []protocol.TLVEntry
	entries = append(entries,
		protocol.TLVEntry{Key: "cache.total_bytes", Value: []byte(strconv.FormatInt(doc.Cache.TotalBytes, 10))},
		protocol.TLVEntry{Key: "cache.value_size_max", Value: []byte(strconv.Itoa(doc.Cache.ValueSizeMax))},
		protocol.TLVEntry{Key: "cache.key_size_max", Value: []byte(strconv.Itoa(doc.Cache.KeySizeMax))},
		protocol.TLVEntry{Key: "cache.soft_watermark", Value: []byte(strconv.FormatFloat(doc.Cache.SoftWatermark, 'f', -1, 64))},
		protocol.TLVEntry{Key: "cache.hard_watermark", Value: []byte(strconv.FormatFloat(doc.Cache.HardWatermark, 'f', -1, 64))},
		protocol.TLVEntry{Key: "cache.promote_interval_ms", Value: []byte(strconv.Itoa(doc.Cache.PromoteIntervalMs))},
		protocol.TLVEntry{Key: "cache.hot_rate_min", Value: []byte(strconv.FormatFloat(doc.Cache.HotRateMin, 'f', -1, 64))},
		protocol.TLVEntry{Key: "cache.read_ratio_min", Value: []byte(strconv.FormatFloat(doc.Cache.ReadRatioMin, 'f', -1, 64))},
		protocol.TLVEntry{Key: "cache.stale_grace_ms", Value: []byte(strconv.Itoa(doc.Cache.StaleGraceMs))},
	)
	for id, tc := range doc.Tenants {
		prefix := fmt.Sprintf("tenant.%d.", id)
		entries = append(entries,
			protocol.TLVEntry{Key: prefix + "hard_cap_bytes", Value: []byte(strconv.FormatInt(tc.HardCapBytes, 10))},
			protocol.TLVEntry{Key: prefix + "min_guarantee_bytes", Value: []byte(strconv.FormatInt(tc.MinGuaranteeBytes, 10))},
			protocol.TLVEntry{Key: prefix + "weight", Value: []byte(strconv.FormatFloat(tc.Weight, 'f', -1, 64))},
			protocol.TLVEntry{Key: prefix + "priority", Value: []byte(strconv.Itoa(int(tc.Priority)))},
			protocol.TLVEntry{Key: prefix + "eviction", Value: []byte(tc.Eviction)},
			protocol.TLVEntry{Key: prefix + "admission", Value: []byte(tc.Admission)},
			protocol.TLVEntry{Key: prefix + "hotness", Value: []byte(tc.Hotness)},
			protocol.TLVEntry{Key: prefix + "consistency", Value: []byte(tc.Consistency)},
			protocol.TLVEntry{Key: prefix + "bounded_staleness_ms", Value: []byte(strconv.Itoa(tc.BoundedStalenessMs))},
		)
	}
	return entries
}

func (d *Document) applyOption(key, value string) error {
	switch {
	case strings.HasPrefix(key, "cache."):
		return d.applyCacheOption(strings.TrimPrefix(key, "cache."), value)
	case strings.HasPrefix(key, "tenant."):
		return d.applyTenantOption(strings.TrimPrefix(key, "tenant."), value)
	default:
		return fmt.Errorf("config: unknown option %q", key)
	}
}

func (d *Document) applyCacheOption(name, value string) error {
	var err error
	switch name {
	case "total_bytes":
		d.Cache.TotalBytes, err = strconv.ParseInt(value, 10, 64)
	case "value_size_max":
		d.Cache.ValueSizeMax, err = strconv.Atoi(value)
	case "key_size_max":
		d.Cache.KeySizeMax, err = strconv.Atoi(value)
	case "soft_watermark":
		d.Cache.SoftWatermark, err = strconv.ParseFloat(value, 64)
	case "hard_watermark":
		d.Cache.HardWatermark, err = strconv.ParseFloat(value, 64)
	case "promote_interval_ms":
		d.Cache.PromoteIntervalMs, err = strconv.Atoi(value)
	case "hot_rate_min":
		d.Cache.HotRateMin, err = strconv.ParseFloat(value, 64)
	case "read_ratio_min":
		d.Cache.ReadRatioMin, err = strconv.ParseFloat(value, 64)
	case "stale_grace_ms":
		d.Cache.StaleGraceMs, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("config: unknown cache option %q", name)
	}
	if err != nil {
		return fmt.Errorf("config: cache.%s: %w", name, err)
	}
	return nil
}

func (d *Document) applyTenantOption(rest, value string) error {
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("config: malformed tenant option %q", rest)
	}
	id64, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return fmt.Errorf("config: malformed tenant id %q: %w", parts[0], err)
	}
	id := uint32(id64)
	tc := d.Tenants[id]
	tc.ID = id

	switch parts[1] {
	case "hard_cap_bytes":
		tc.HardCapBytes, err = strconv.ParseInt(value, 10, 64)
	case "min_guarantee_bytes":
		tc.MinGuaranteeBytes, err = strconv.ParseInt(value, 10, 64)
	case "weight":
		tc.Weight, err = strconv.ParseFloat(value, 64)
	case "priority":
		var p int
		p, err = strconv.Atoi(value)
		tc.Priority = uint8(p)
	case "eviction":
		tc.Eviction = value
	case "admission":
		tc.Admission = value
	case "hotness":
		tc.Hotness = value
	case "consistency":
		tc.Consistency = value
	case "bounded_staleness_ms":
		tc.BoundedStalenessMs, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("config: unknown tenant option %q", parts[1])
	}
	if err != nil {
		return fmt.Errorf("config: tenant.%d.%s: %w", id, parts[1], err)
	}
	d.Tenants[id] = tc
	return nil
}
