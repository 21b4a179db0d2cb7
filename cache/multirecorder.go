package cache

import (
	"time"

	"github.com/hybridkv/hotcache/telemetry"
)

// multiRecorder fans a single Recorder call out to every backend, so a
// Cache can feed both its own in-process Telemetry (for STATS snapshots)
// and an external sink like telemetry/prom's Adapter (for /metrics
// scraping) without either backend knowing about the other.
type multiRecorder []telemetry.Recorder

func (m multiRecorder) Hit(tenant uint32)  { m.each(func(r telemetry.Recorder) { r.Hit(tenant) }) }
func (m multiRecorder) Miss(tenant uint32) { m.each(func(r telemetry.Recorder) { r.Miss(tenant) }) }
func (m multiRecorder) Admit(tenant uint32) {
	m.each(func(r telemetry.Recorder) { r.Admit(tenant) })
}
func (m multiRecorder) Refuse(tenant uint32) {
	m.each(func(r telemetry.Recorder) { r.Refuse(tenant) })
}
func (m multiRecorder) Evict(tenant uint32, reason telemetry.EvictReason) {
	m.each(func(r telemetry.Recorder) { r.Evict(tenant, reason) })
}
func (m multiRecorder) Resize(tenant uint32, deltaBytes, deltaEntries int64) {
	m.each(func(r telemetry.Recorder) { r.Resize(tenant, deltaBytes, deltaEntries) })
}
func (m multiRecorder) ObserveLatency(tenant uint32, d time.Duration) {
	m.each(func(r telemetry.Recorder) { r.ObserveLatency(tenant, d) })
}

func (m multiRecorder) each(fn func(telemetry.Recorder)) {
	for _, r := range m {
		fn(r)
	}
}

var _ telemetry.Recorder = multiRecorder(nil)
