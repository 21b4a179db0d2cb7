// Package sizeaware implements a size-aware admission policy: reject
// candidates whose size/frequency product exceeds a class-specific
// ceiling, so a large, rarely-accessed item cannot displace many small,
// frequently-accessed ones.
package sizeaware

import "github.com/hybridkv/hotcache/policy"

type admitter struct {
	estimator  policy.HotnessEstimator
	maxProduct int64 // size(bytes) * frequency ceiling per size class
	classSize  int64 // bytes; candidates are compared within their own class
}

// New builds a size-aware admission policy. classSize buckets
// candidates (e.g. the arena's size-class cell size) so the
// size/frequency product ceiling applies per class rather than
// globally across wildly different entry sizes.
func New(estimator policy.HotnessEstimator, classSize int64, maxProduct int64) policy.AdmissionPolicy {
	return &admitter{estimator: estimator, classSize: classSize, maxProduct: maxProduct}
}

// Admit rejects a candidate whose size, normalized to classSize units,
// times its estimated frequency exceeds maxProduct.
func (a *admitter) Admit(candidate, _ policy.Candidate, _ bool) bool {
	if a.classSize <= 0 {
		return true
	}
	units := candidate.Size / a.classSize
	if units < 1 {
		units = 1
	}
	freq := int64(a.estimator.Estimate(candidate.Fingerprint))
	return units*freq <= a.maxProduct
}
