// Package hotkey implements the hot-key cache's tracker: it samples
// read traffic into a pair of Count-Min Sketches (reads and total
// accesses) and, once per PromoteInterval, extracts the fingerprints
// whose estimated rate and read ratio clear the configured thresholds.
// Built on top of policy/hotness/cms.Sketch; Tracker layers windowed
// candidate extraction on top of it to feed the promotion pipeline.
package hotkey

import (
	"sync"
	"time"

	"github.com/hybridkv/hotcache/policy/hotness/cms"
)

// DefaultPromoteInterval is how often Tick should be called by the
// promotion manager (spec.md §4.9/§4.10).
const DefaultPromoteInterval = 5 * time.Second

// DefaultHotRateMin is the minimum estimated ops/sec a fingerprint must
// clear to be promoted.
const DefaultHotRateMin = 100.0

// DefaultReadRatioMin is the minimum fraction of accesses that must be
// reads (as opposed to writes already flowing through the store) for a
// fingerprint to be promotion-eligible.
const DefaultReadRatioMin = 0.90

// DefaultSketchWidth is the per-row counter width handed to the
// underlying Count-Min Sketches.
const DefaultSketchWidth = 1 << 16

// Clock abstracts time.Now for deterministic tests, matching the
// Clock interface used across cache/ledger/telemetry.
type Clock interface{ NowUnixNano() int64 }

type systemClock struct{}

func (systemClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Config tunes a Tracker's thresholds.
type Config struct {
	PromoteInterval time.Duration
	HotRateMin      float64
	ReadRatioMin    float64
	ValueSizeMax    int
	SketchWidth     int
	Clock           Clock
}

// DefaultConfig returns the spec-mandated default thresholds.
func DefaultConfig() Config {
	return Config{
		PromoteInterval: DefaultPromoteInterval,
		HotRateMin:      DefaultHotRateMin,
		ReadRatioMin:    DefaultReadRatioMin,
		ValueSizeMax:    1024,
		SketchWidth:     DefaultSketchWidth,
		Clock:           systemClock{},
	}
}

// Candidate is a promotion-eligible fingerprint surfaced by Tick.
type Candidate struct {
	Tenant      uint32
	Fingerprint uint64
	Key         []byte
	Rate        float64
	ReadRatio   float64
}

type keyMeta struct {
	tenant    uint32
	key       []byte
	valueSize int
	// penalty depresses this key's effective rate for one window after
	// the promotion manager reports it REJECTED, so a repeatedly
	// rejected item doesn't spin the manager in a tight resubmit loop.
	penalty float64
}

// Tracker accumulates per-fingerprint read/write observations and
// periodically extracts hot-key candidates.
type Tracker struct {
	cfg   Config
	reads *cms.Sketch
	total *cms.Sketch

	mu       sync.Mutex
	seen     map[uint64]*keyMeta
	lastTick int64 // unix nanos; zero until the first Tick
}

// New builds a Tracker. A zero Config.Clock/SketchWidth/PromoteInterval
// falls back to the documented defaults.
func New(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = DefaultPromoteInterval
	}
	if cfg.HotRateMin <= 0 {
		cfg.HotRateMin = DefaultHotRateMin
	}
	if cfg.ReadRatioMin <= 0 {
		cfg.ReadRatioMin = DefaultReadRatioMin
	}
	width := cfg.SketchWidth
	if width <= 0 {
		width = DefaultSketchWidth
	}
	return &Tracker{
		cfg:   cfg,
		reads: cms.New(width),
		total: cms.New(width),
		seen:  make(map[uint64]*keyMeta),
	}
}

// Observe records one access to (tenant, key) identified by fp. isRead
// distinguishes a cache-served read from a write/promotion passing
// through the same key, used to compute the read ratio; valueSize is
// the observed entry size, used to filter candidates above
// Config.ValueSizeMax.
func (t *Tracker) Observe(tenant uint32, key []byte, fp uint64, isRead bool, valueSize int) {
	t.mu.Lock()
	meta, ok := t.seen[fp]
	if !ok {
		meta = &keyMeta{tenant: tenant, key: append([]byte(nil), key...)}
		t.seen[fp] = meta
	}
	meta.valueSize = valueSize
	t.mu.Unlock()

	if isRead {
		t.reads.Observe(fp)
	}
	t.total.Observe(fp)
}

// Penalize depresses fp's effective rate for the next Tick window,
// called by the promotion manager when BatchPromote reports fp
// REJECTED so the same hot-but-unadmittable key doesn't dominate every
// subsequent candidate list.
func (t *Tracker) Penalize(fp uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if meta, ok := t.seen[fp]; ok {
		meta.penalty = 0.5
	}
}

// Tick extracts the current window's hot-key candidates and halves the
// sketches for the next window. Call once per Config.PromoteInterval.
func (t *Tracker) Tick(now time.Time) []Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.cfg.PromoteInterval
	if t.lastTick != 0 {
		if d := now.UnixNano() - t.lastTick; d > 0 {
			elapsed = time.Duration(d)
		}
	}
	t.lastTick = now.UnixNano()
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		seconds = t.cfg.PromoteInterval.Seconds()
	}

	var candidates []Candidate
	for fp, meta := range t.seen {
		total := float64(t.total.Estimate(fp))
		if total == 0 {
			delete(t.seen, fp)
			continue
		}
		reads := float64(t.reads.Estimate(fp))
		rate := total / seconds
		ratio := reads / total

		effectiveRate := rate
		if meta.penalty > 0 {
			effectiveRate *= meta.penalty
			meta.penalty = 0
		}

		if meta.valueSize > t.cfg.ValueSizeMax && t.cfg.ValueSizeMax > 0 {
			continue
		}
		if effectiveRate >= t.cfg.HotRateMin && ratio >= t.cfg.ReadRatioMin {
			candidates = append(candidates, Candidate{
				Tenant:      meta.tenant,
				Fingerprint: fp,
				Key:         meta.key,
				Rate:        rate,
				ReadRatio:   ratio,
			})
		}
	}

	t.reads.Reset()
	t.total.Reset()
	return candidates
}
