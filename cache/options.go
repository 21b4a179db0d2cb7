package cache

import (
	"time"

	"github.com/hybridkv/hotcache/governor"
	"github.com/hybridkv/hotcache/ledger"
	"github.com/hybridkv/hotcache/policy"
)

// Default size ceilings, resolved from original_source's
// hkv-common/src/types.rs (MAX_KEY_SIZE/MAX_VALUE_SIZE) and
// hkv-common/src/protocol.rs (MAX_BATCH_SIZE).
const (
	DefaultKeySizeMax   = 256
	DefaultValueSizeMax = 1024
	MaxBatchSize        = 1000
)

// DefaultTotalBytes matches spec.md §6 cache.total_bytes.
const DefaultTotalBytes = 256 << 20

// Clock provides time in UnixNano; overridable in tests.
type Clock interface{ NowUnixNano() int64 }

type systemClock struct{}

func (systemClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Config holds cache-wide settings, the spec.md §6 "cache.*" options.
type Config struct {
	TotalBytes     int64
	KeySizeMax     int
	ValueSizeMax   int
	SoftWatermark  float64
	HardWatermark  float64
	TombstoneGrace time.Duration
	EventBuffer    int

	// Clock overrides time.Now for tests. Nil uses systemClock.
	Clock Clock
}

// DefaultConfig returns the spec.md §6 default cache-level settings.
func DefaultConfig() Config {
	return Config{
		TotalBytes:     DefaultTotalBytes,
		KeySizeMax:     DefaultKeySizeMax,
		ValueSizeMax:   DefaultValueSizeMax,
		SoftWatermark:  governor.DefaultSoftWatermark,
		HardWatermark:  governor.DefaultHardWatermark,
		TombstoneGrace: ledger.DefaultTombstoneGrace,
		EventBuffer:    1024,
	}
}

// TenantOptions is the per-tenant shape of the CONFIGURE command
// (spec.md §6 "tenant.<id>.*"): hard quota, policy selections, and
// consistency mode.
type TenantOptions struct {
	governor.TenantConfig

	Eviction  policy.Factory
	Admission policy.AdmissionPolicy
	Hotness   policy.HotnessEstimator

	Consistency      ledger.ConsistencyMode
	BoundedStaleness time.Duration
}
