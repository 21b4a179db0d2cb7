// Package util contains internal helpers (fingerprinting, sharding, padding)
// shared by the arena, index, and governor packages.
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "github.com/cespare/xxhash/v2"

// Fingerprint hashes key bytes into the stable 64-bit value used to index
// and to break ties deterministically on equal eviction scores.
func Fingerprint(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// FingerprintString is a convenience for callers that already hold a string
// key and want to avoid a redundant []byte conversion allocation.
func FingerprintString(key string) uint64 {
	return xxhash.Sum64String(key)
}
