// Package prom adapts telemetry.Recorder to Prometheus.
package prom

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hybridkv/hotcache/telemetry"
)

// Adapter implements telemetry.Recorder and exports Prometheus
// counters/gauges/histogram labeled by tenant.
type Adapter struct {
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
	admissions *prometheus.CounterVec
	refusals   *prometheus.CounterVec
	evicts     *prometheus.CounterVec
	bytesGauge *prometheus.GaugeVec
	entGauge   *prometheus.GaugeVec
	latency    *prometheus.HistogramVec
}

// New constructs a Prometheus telemetry adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "hits_total",
			Help: "Cache hits", ConstLabels: constLabels,
		}, []string{"tenant"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "misses_total",
			Help: "Cache misses", ConstLabels: constLabels,
		}, []string{"tenant"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "admissions_total",
			Help: "Admitted entries", ConstLabels: constLabels,
		}, []string{"tenant"}),
		refusals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "refusals_total",
			Help: "Refused admissions", ConstLabels: constLabels,
		}, []string{"tenant"}),
		evicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "evictions_total",
			Help: "Cache evictions by reason", ConstLabels: constLabels,
		}, []string{"tenant", "reason"}),
		bytesGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "bytes_in_use",
			Help: "Resident bytes", ConstLabels: constLabels,
		}, []string{"tenant"}),
		entGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "entries",
			Help: "Resident entry count", ConstLabels: constLabels,
		}, []string{"tenant"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "read_latency_seconds",
			Help:        "Read-path service time",
			ConstLabels: constLabels,
			Buckets:     []float64{.00001, .000025, .00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		}, []string{"tenant"}),
	}
	reg.MustRegister(a.hits, a.misses, a.admissions, a.refusals, a.evicts, a.bytesGauge, a.entGauge, a.latency)
	return a
}

func tenantLabel(tenant uint32) string { return strconv.FormatUint(uint64(tenant), 10) }

func (a *Adapter) Hit(tenant uint32)  { a.hits.WithLabelValues(tenantLabel(tenant)).Inc() }
func (a *Adapter) Miss(tenant uint32) { a.misses.WithLabelValues(tenantLabel(tenant)).Inc() }
func (a *Adapter) Admit(tenant uint32) {
	a.admissions.WithLabelValues(tenantLabel(tenant)).Inc()
}
func (a *Adapter) Refuse(tenant uint32) {
	a.refusals.WithLabelValues(tenantLabel(tenant)).Inc()
}

func (a *Adapter) Evict(tenant uint32, reason telemetry.EvictReason) {
	a.evicts.WithLabelValues(tenantLabel(tenant), reason.String()).Inc()
}

func (a *Adapter) Resize(tenant uint32, deltaBytes int64, deltaEntries int64) {
	l := tenantLabel(tenant)
	a.bytesGauge.WithLabelValues(l).Add(float64(deltaBytes))
	a.entGauge.WithLabelValues(l).Add(float64(deltaEntries))
}

func (a *Adapter) ObserveLatency(tenant uint32, d time.Duration) {
	a.latency.WithLabelValues(tenantLabel(tenant)).Observe(d.Seconds())
}

// Compile-time check: ensure Adapter implements telemetry.Recorder.
var _ telemetry.Recorder = (*Adapter)(nil)
