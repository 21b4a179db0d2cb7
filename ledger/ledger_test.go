package ledger

import (
	"testing"
	"time"
)

// fakeClock supports deterministic advancement to avoid timing flakiness
// around Bounded's staleness window and tombstone grace.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time      { return f.t }
func (f *fakeClock) add(d time.Duration) { f.t = f.t.Add(d) }

func TestLedger_ObserveAndCheckAdmission(t *testing.T) {
	t.Parallel()

	l := New()
	l.Observe(1, 10)
	if err := l.CheckAdmission(1, 9); err != ErrVersionRegression {
		t.Fatalf("CheckAdmission(9) = %v, want ErrVersionRegression", err)
	}
	if err := l.CheckAdmission(1, 10); err != nil {
		t.Fatalf("CheckAdmission(10) = %v, want nil", err)
	}
	if err := l.CheckAdmission(1, 11); err != nil {
		t.Fatalf("CheckAdmission(11) = %v, want nil", err)
	}
	if err := l.CheckAdmission(2, 0); err != nil {
		t.Fatalf("CheckAdmission for unseen fingerprint = %v, want nil", err)
	}
}

func TestLedger_StrictInvalidationIsAlwaysMiss(t *testing.T) {
	t.Parallel()

	l := New()
	l.Observe(1, 5)
	l.Invalidate(1, 6, Strict)

	if got := l.Resolve(1, 5, 0); got != DecisionMiss {
		t.Fatalf("Resolve after strict invalidation = %v, want DecisionMiss", got)
	}
	if err := l.CheckAdmission(1, 5); err != ErrVersionRegression {
		t.Fatalf("CheckAdmission(5) after invalidate(6) = %v, want ErrVersionRegression", err)
	}
}

func TestLedger_BoundedStalenessWindow(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(0, 0)}
	l := New(WithClock(clk.now), WithBoundedStalenessWindow(100*time.Millisecond))
	l.Observe(1, 5)
	l.Invalidate(1, 6, Bounded)

	clk.add(50 * time.Millisecond)
	if got := l.Resolve(1, 5, 0); got != DecisionStale {
		t.Fatalf("Resolve at t=50ms = %v, want DecisionStale", got)
	}

	clk.add(100 * time.Millisecond) // t=150ms, past the 100ms window
	if got := l.Resolve(1, 5, 0); got != DecisionMiss {
		t.Fatalf("Resolve at t=150ms = %v, want DecisionMiss", got)
	}
}

func TestLedger_VersionCheckMismatchIsMiss(t *testing.T) {
	t.Parallel()

	l := New()
	l.Observe(1, 5)
	l.Invalidate(1, 6, VersionCheck)

	if got := l.Resolve(1, 6, 6); got != DecisionHit {
		t.Fatalf("Resolve with matching expected version = %v, want DecisionHit", got)
	}
	if got := l.Resolve(1, 6, 5); got != DecisionMiss {
		t.Fatalf("Resolve with stale expected version = %v, want DecisionMiss", got)
	}
}

func TestLedger_AsyncRefreshServesStaleAndHints(t *testing.T) {
	t.Parallel()

	l := New()
	l.Observe(1, 5)
	l.Invalidate(1, 6, AsyncRefresh)

	if got := l.Resolve(1, 5, 0); got != DecisionRefreshHint {
		t.Fatalf("Resolve under AsyncRefresh = %v, want DecisionRefreshHint", got)
	}
}

func TestLedger_FreshEntryWithNoTombstoneIsHit(t *testing.T) {
	t.Parallel()

	l := New()
	l.Observe(1, 5)
	if got := l.Resolve(1, 5, 0); got != DecisionHit {
		t.Fatalf("Resolve for never-invalidated entry = %v, want DecisionHit", got)
	}
}

func TestLedger_ObserveAfterInvalidateClearsTombstone(t *testing.T) {
	t.Parallel()

	l := New()
	l.Observe(1, 5)
	l.Invalidate(1, 6, Bounded)
	l.Observe(1, 7) // a fresh BATCH_PROMOTE supersedes the tombstone

	if got := l.Resolve(1, 7, 0); got != DecisionHit {
		t.Fatalf("Resolve after re-observe = %v, want DecisionHit", got)
	}
}

func TestLedger_SweepRemovesExpiredTombstones(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(0, 0)}
	l := New(WithClock(clk.now), WithTombstoneGrace(5*time.Second))
	l.Observe(1, 1)
	l.Invalidate(1, 2, Strict)

	if n := l.Sweep(); n != 0 {
		t.Fatalf("Sweep before grace elapsed removed %d, want 0", n)
	}
	clk.add(6 * time.Second)
	if n := l.Sweep(); n != 1 {
		t.Fatalf("Sweep after grace elapsed removed %d, want 1", n)
	}
	if l.Len() != 0 {
		t.Fatalf("Len after sweep = %d, want 0", l.Len())
	}
}
