package sizeaware

import (
	"testing"

	"github.com/hybridkv/hotcache/policy"
)

type fakeEstimator map[uint64]uint32

func (f fakeEstimator) Observe(fp uint64)         { f[fp]++ }
func (f fakeEstimator) Estimate(fp uint64) uint32 { return f[fp] }
func (f fakeEstimator) Reset() {
	for k := range f {
		f[k] = 0
	}
}

func TestSizeAware_RejectsLargeColdCandidate(t *testing.T) {
	t.Parallel()

	est := fakeEstimator{1: 1} // cold
	a := New(est, 64, 100)     // classSize=64B, maxProduct=100

	// size 6400 bytes = 100 units * freq 1 = 100, at the ceiling: admit.
	if !a.Admit(policy.Candidate{Fingerprint: 1, Size: 6400}, policy.Candidate{}, false) {
		t.Fatal("product exactly at ceiling should admit")
	}
	// one more unit tips it over.
	if a.Admit(policy.Candidate{Fingerprint: 1, Size: 6464}, policy.Candidate{}, false) {
		t.Fatal("product over ceiling should reject")
	}
}

func TestSizeAware_AdmitsSmallHotCandidate(t *testing.T) {
	t.Parallel()

	est := fakeEstimator{1: 50}
	a := New(est, 64, 100)

	if !a.Admit(policy.Candidate{Fingerprint: 1, Size: 64}, policy.Candidate{}, false) {
		t.Fatal("small hot candidate (1 unit * 50 = 50) should admit")
	}
}
