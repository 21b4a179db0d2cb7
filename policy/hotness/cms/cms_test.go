package cms

import "testing"

func TestSketch_EstimateNeverUndercounts(t *testing.T) {
	t.Parallel()

	s := New(64)
	for i := 0; i < 7; i++ {
		s.Observe(42)
	}
	if got := s.Estimate(42); got < 7 {
		t.Fatalf("Estimate = %d, want >= 7 (Count-Min never undercounts)", got)
	}
}

func TestSketch_UnobservedFingerprintEstimatesLow(t *testing.T) {
	t.Parallel()

	s := New(1024)
	for i := 0; i < 100; i++ {
		s.Observe(uint64(i))
	}
	if got := s.Estimate(999999); got > 2 {
		t.Fatalf("Estimate for unobserved key = %d, want a small collision-only value", got)
	}
}

func TestSketch_ResetHalvesCounters(t *testing.T) {
	t.Parallel()

	s := New(64)
	for i := 0; i < 8; i++ {
		s.Observe(1)
	}
	before := s.Estimate(1)
	s.Reset()
	after := s.Estimate(1)
	if after >= before {
		t.Fatalf("Estimate after Reset = %d, want less than before (%d)", after, before)
	}
}

func TestSketch_HalvesAutomaticallyAfterHalvingPeriod(t *testing.T) {
	t.Parallel()

	s := New(64)
	s.halvingPeriod = 10
	s.Observe(1)
	before := s.Estimate(1)
	for i := 0; i < 10; i++ {
		s.Observe(2) // unrelated events, drives the halving trigger
	}
	if got := s.Estimate(1); got >= before {
		t.Fatalf("Estimate(1) after automatic halving = %d, want less than %d", got, before)
	}
}
