// Package cms implements a Count-Min Sketch hotness estimator: 4 rows,
// power-of-two width, periodic halving every W observed events
// (spec.md §4.6). Grounded on the admission-control doorkeeper/sketch
// concept named in Borislavv-go-ash-cache's AdmissionControlCfg, built
// here directly against xxhash since the pack carries no standalone CMS
// implementation.
package cms

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/hybridkv/hotcache/internal/util"
	"github.com/hybridkv/hotcache/policy"
)

const rows = 4

// DefaultHalvingPeriod is the number of Observe calls between automatic
// halvings (spec.md §4.6 "periodic halving every W events").
const DefaultHalvingPeriod = 100_000

// Sketch is a Count-Min Sketch over 64-bit fingerprints.
type Sketch struct {
	mu            sync.Mutex
	width         uint64
	mask          uint64
	counters      [rows][]uint8
	seeds         [rows]uint64
	events        uint64
	halvingPeriod uint64
}

// New builds a Sketch sized to width (rounded up to a power of two,
// minimum 16).
func New(width int) *Sketch {
	w := util.NextPow2(uint64(width))
	if w < 16 {
		w = 16
	}
	s := &Sketch{
		width:         w,
		mask:          w - 1,
		halvingPeriod: DefaultHalvingPeriod,
		seeds:         [rows]uint64{0x9E3779B97F4A7C15, 0xC2B2AE3D27D4EB4F, 0x165667B19E3779F9, 0x27D4EB2F165667C5},
	}
	for i := range s.counters {
		s.counters[i] = make([]uint8, w)
	}
	return s
}

func (s *Sketch) index(row int, fp uint64) uint64 {
	h := xxhash.Sum64(encodeSeeded(s.seeds[row], fp))
	return h & s.mask
}

// encodeSeeded mixes seed and fp into an 16-byte buffer for hashing,
// avoiding an allocation-heavy string-concat per row.
func encodeSeeded(seed, fp uint64) []byte {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seed >> (8 * i))
		buf[8+i] = byte(fp >> (8 * i))
	}
	return buf[:]
}

// Observe increments fp's estimated count across all rows, saturating
// at 255, then halves every counter once halvingPeriod events have
// accumulated.
func (s *Sketch) Observe(fp uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for r := 0; r < rows; r++ {
		idx := s.index(r, fp)
		if s.counters[r][idx] < 255 {
			s.counters[r][idx]++
		}
	}
	s.events++
	if s.events >= s.halvingPeriod {
		s.halveLocked()
		s.events = 0
	}
}

// Estimate returns the minimum counter across all rows for fp, the
// Count-Min Sketch's standard (over-)estimate of its true frequency.
func (s *Sketch) Estimate(fp uint64) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	min := uint8(255)
	for r := 0; r < rows; r++ {
		v := s.counters[r][s.index(r, fp)]
		if v < min {
			min = v
		}
	}
	return uint32(min)
}

// Reset halves every counter immediately, independent of the automatic
// event-count trigger; used by a maintenance tick.
func (s *Sketch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halveLocked()
}

func (s *Sketch) halveLocked() {
	for r := 0; r < rows; r++ {
		row := s.counters[r]
		for i := range row {
			row[i] /= 2
		}
	}
}

// compile-time check: Sketch implements policy.HotnessEstimator.
var _ policy.HotnessEstimator = (*Sketch)(nil)
