package threshold

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

func TestThreshold_AdmitsAtOrAboveK(t *testing.T) {
	t.Parallel()

	est := fakeEstimator{1: 5, 2: 2}
	a := New(3, est)

	if !a.Admit(policy.Candidate{Fingerprint: 1}, policy.Candidate{}, false) {
		t.Fatal("frequency 5 >= threshold 3 should admit")
	}
	if a.Admit(policy.Candidate{Fingerprint: 2}, policy.Candidate{}, false) {
		t.Fatal("frequency 2 < threshold 3 should reject")
	}
}
