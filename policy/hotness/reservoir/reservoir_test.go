package reservoir

import "testing"

func TestEstimator_TracksFrequencyWithinSample(t *testing.T) {
	t.Parallel()

	e := New(100)
	for i := 0; i < 50; i++ {
		e.Observe(1)
	}
	for i := 0; i < 5; i++ {
		e.Observe(2)
	}
	// Sample not yet full (55 < 100), so both are exactly tracked.
	if got := e.Estimate(1); got != 50 {
		t.Fatalf("Estimate(1) = %d, want 50", got)
	}
	if got := e.Estimate(2); got != 5 {
		t.Fatalf("Estimate(2) = %d, want 5", got)
	}
}

func TestEstimator_UnobservedIsZero(t *testing.T) {
	t.Parallel()

	e := New(10)
	e.Observe(1)
	if got := e.Estimate(999); got != 0 {
		t.Fatalf("Estimate(unobserved) = %d, want 0", got)
	}
}

func TestEstimator_ResetClearsSample(t *testing.T) {
	t.Parallel()

	e := New(10)
	e.Observe(1)
	e.Reset()
	if got := e.Estimate(1); got != 0 {
		t.Fatalf("Estimate after Reset = %d, want 0", got)
	}
}

func TestEstimator_ReplacementKeepsSampleAtCapacity(t *testing.T) {
	t.Parallel()

	e := New(10)
	for i := 0; i < 1000; i++ {
		e.Observe(uint64(i))
	}
	if len(e.sample) != 10 {
		t.Fatalf("len(sample) = %d, want 10 (capped)", len(e.sample))
	}
	total := 0
	for _, c := range e.counts {
		total += int(c)
	}
	if total != 10 {
		t.Fatalf("sum of counts = %d, want 10 (matches sample size)", total)
	}
}
