package cache

import "errors"

// Sentinel errors returned by command-surface operations. A small
// hand-rolled error set rather than an errors-wrapping library, since
// callers only need to switch on a handful of fixed outcomes.
var (
	ErrInvalidInput    = errors.New("cache: invalid input")
	ErrRejected        = errors.New("cache: rejected")
	ErrPressure        = errors.New("cache: insufficient budget")
	ErrTimeout         = errors.New("cache: deadline exceeded")
	ErrAccountingFault = errors.New("cache: accounting fault")
	ErrUnknownTenant   = errors.New("cache: unknown tenant")
)
