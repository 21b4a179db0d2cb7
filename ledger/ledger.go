// Package ledger implements the hot-key cache's version and invalidation
// tracking (C4): the highest version observed per fingerprint, tombstone
// grace, and the four pluggable read-consistency modes.
package ledger

import (
	"errors"
	"sync"
	"time"
)

// ErrVersionRegression is returned by CheckAdmission when a candidate's
// version is older than the ledger's recorded version for that
// fingerprint (spec.md §4.4, §4.7 "version monotonicity").
var ErrVersionRegression = errors.New("ledger: version regression")

// ConsistencyMode selects how Read resolves a stale or invalidated entry.
// The zero value is Strict.
type ConsistencyMode uint8

const (
	// Strict removes an invalidated entry synchronously; a subsequent
	// read is a MISS as soon as Invalidate returns.
	Strict ConsistencyMode = iota
	// Bounded serves the stale value until BoundedStalenessWindow elapses
	// past the invalidation, then treats it as a MISS.
	Bounded
	// VersionCheck compares a read's expected version against the
	// cached entry's version and reports a MISS on any mismatch.
	VersionCheck
	// AsyncRefresh serves the stale value indefinitely and signals the
	// caller to emit a refresh-hint event instead of blocking the read.
	AsyncRefresh
)

// DefaultTombstoneGrace bounds how long a tombstone is retained after
// invalidation before the ledger forgets it (spec.md §4.4).
const DefaultTombstoneGrace = 5 * time.Second

// DefaultBoundedStalenessWindow is the default per-entry staleness
// deadline for Bounded mode (spec.md §4.4).
const DefaultBoundedStalenessWindow = 100 * time.Millisecond

// Decision is the outcome ledger.Resolve hands back to cache.Read.
type Decision uint8

const (
	// DecisionHit means the entry is fresh; serve it as-is.
	DecisionHit Decision = iota
	// DecisionStale means serve the existing value but mark it STALE.
	DecisionStale
	// DecisionMiss means treat the read as a cache miss.
	DecisionMiss
	// DecisionRefreshHint means serve the existing value as a hit but
	// also emit a REFRESH_HINT event (AsyncRefresh mode).
	DecisionRefreshHint
)

type record struct {
	version      uint64
	tombstonedAt time.Time // zero if not tombstoned
	invalidAt    time.Time // when Invalidate was called, for Bounded's window
	mode         ConsistencyMode
}

// Ledger tracks per-fingerprint version and tombstone state.
type Ledger struct {
	mu             sync.RWMutex
	records        map[uint64]*record
	tombstoneGrace time.Duration
	boundedWindow  time.Duration
	now            func() time.Time
}

// Option configures a Ledger at construction time.
type Option func(*Ledger)

// WithTombstoneGrace overrides DefaultTombstoneGrace.
func WithTombstoneGrace(d time.Duration) Option {
	return func(l *Ledger) { l.tombstoneGrace = d }
}

// WithBoundedStalenessWindow overrides DefaultBoundedStalenessWindow.
func WithBoundedStalenessWindow(d time.Duration) Option {
	return func(l *Ledger) { l.boundedWindow = d }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New builds an empty Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		records:        make(map[uint64]*record),
		tombstoneGrace: DefaultTombstoneGrace,
		boundedWindow:  DefaultBoundedStalenessWindow,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Observe records version as the highest known version for fp if it is
// newer than what the ledger already has. Called on successful admission.
func (l *Ledger) Observe(fp uint64, version uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[fp]
	if !ok {
		l.records[fp] = &record{version: version}
		return
	}
	if version > r.version {
		r.version = version
		r.tombstonedAt = time.Time{}
	}
}

// CheckAdmission rejects a candidate version that regresses behind the
// ledger's recorded version for fp (spec.md §4.7 version monotonicity).
// An unseen fingerprint always admits.
func (l *Ledger) CheckAdmission(fp uint64, version uint64) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[fp]
	if !ok {
		return nil
	}
	if version < r.version {
		return ErrVersionRegression
	}
	return nil
}

// Invalidate marks fp's entry per the given mode's semantics, recording
// new_version as the ledger's current version. Strict mode's synchronous
// removal is performed by the caller (cache.Invalidate evicts from the
// index before acknowledging); the ledger only tracks the tombstone so a
// racing BATCH_PROMOTE with an older version is still rejected.
func (l *Ledger) Invalidate(fp uint64, newVersion uint64, mode ConsistencyMode) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r, ok := l.records[fp]
	if !ok {
		r = &record{}
		l.records[fp] = r
	}
	if newVersion > r.version {
		r.version = newVersion
	}
	r.mode = mode
	r.tombstonedAt = now
	r.invalidAt = now
}

// Resolve decides how a read against fp (currently present in the index
// with liveVersion) should be answered, given expectedVersion from the
// caller (0 meaning "none supplied", only meaningful under VersionCheck).
func (l *Ledger) Resolve(fp uint64, liveVersion uint64, expectedVersion uint64) Decision {
	l.mu.RLock()
	r, ok := l.records[fp]
	l.mu.RUnlock()
	if !ok || r.tombstonedAt.IsZero() {
		if expectedVersion != 0 && expectedVersion != liveVersion {
			return DecisionMiss
		}
		return DecisionHit
	}

	switch r.mode {
	case Strict:
		// The entry should already have been removed from the index by
		// the caller; if we're still being asked, treat it as gone.
		return DecisionMiss
	case Bounded:
		if l.now().Sub(r.invalidAt) < l.boundedWindow {
			return DecisionStale
		}
		return DecisionMiss
	case VersionCheck:
		if expectedVersion == 0 || expectedVersion == liveVersion {
			return DecisionHit
		}
		return DecisionMiss
	case AsyncRefresh:
		return DecisionRefreshHint
	default:
		return DecisionMiss
	}
}

// Sweep removes tombstone records older than the configured grace,
// bounding ledger memory (spec.md §4.4). Intended to be called from a
// periodic maintenance tick alongside policy.Hooks.OnTick.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for fp, r := range l.records {
		if r.tombstonedAt.IsZero() {
			continue
		}
		if now.Sub(r.tombstonedAt) >= l.tombstoneGrace {
			delete(l.records, fp)
			removed++
		}
	}
	return removed
}

// Forget drops fp's tracked record entirely, used by administrative
// PURGE so a key re-admitted after a purge isn't still bound by a
// stale version floor from before the purge.
func (l *Ledger) Forget(fp uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, fp)
}

// Len reports the number of tracked fingerprints, for tests and STATS.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
