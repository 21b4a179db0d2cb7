// Package tinylfu implements a TinyLFU-style admission policy: admit a
// candidate only if its estimated frequency exceeds the eviction
// victim's, grounded on dgraph-io/ristretto's tinylfu.onMiss admission
// comparison (candidate vs. probation-segment victim).
package tinylfu

import "github.com/hybridkv/hotcache/policy"

type admitter struct {
	estimator policy.HotnessEstimator
}

// New builds a TinyLFU-style admission policy backed by estimator.
func New(estimator policy.HotnessEstimator) policy.AdmissionPolicy {
	return &admitter{estimator: estimator}
}

// Admit admits unconditionally when there is no victim to compare
// against (no eviction pressure); under pressure, it admits only if the
// candidate's estimated frequency strictly exceeds the victim's,
// matching ristretto's "evict = victim if admittor.Admit(candidate, victim)".
func (a *admitter) Admit(candidate, victim policy.Candidate, victimOK bool) bool {
	if !victimOK {
		return true
	}
	return a.estimator.Estimate(candidate.Fingerprint) > a.estimator.Estimate(victim.Fingerprint)
}
