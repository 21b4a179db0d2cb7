// Package threshold implements the simplest admission policy: admit a
// candidate only if its estimated frequency is at least K.
package threshold

import "github.com/hybridkv/hotcache/policy"

type admitter struct {
	k         uint32
	estimator policy.HotnessEstimator
}

// New builds a threshold admission policy backed by estimator, admitting
// candidates whose estimated frequency is >= k.
func New(k uint32, estimator policy.HotnessEstimator) policy.AdmissionPolicy {
	return &admitter{k: k, estimator: estimator}
}

// Admit ignores the victim entirely: this policy only checks the
// candidate's own estimated frequency against the threshold.
func (a *admitter) Admit(candidate policy.Candidate, _ policy.Candidate, _ bool) bool {
	return a.estimator.Estimate(candidate.Fingerprint) >= a.k
}
