package migration

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of migration runs. A nil *Metrics
// records nothing.
type Metrics struct {
	objects  *prometheus.CounterVec
	probes   *prometheus.CounterVec
	deferred *prometheus.CounterVec
	phases   *prometheus.HistogramVec
}

// NewMetrics registers the migration collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		objects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "site_migration",
			Name:      "objects_total",
			Help:      "Replayed legacy records by legacy type and result.",
		}, []string{"type", "result"}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "site_migration",
			Name:      "existence_probes_total",
			Help:      "Remote existence checks by outcome (cached, exists, absent).",
		}, []string{"outcome"}),
		deferred: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "site_migration",
			Name:      "deferred_references_total",
			Help:      "Deferred reference calls by kind and result.",
		}, []string{"kind", "result"}),
		phases: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "site_migration",
			Name:      "phase_duration_seconds",
			Help:      "Duration of migration phases.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"phase"}),
	}
}

func (m *Metrics) observeObject(typ, result string) {
	if m == nil {
		return
	}
	m.objects.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) observeProbe(outcome string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDeferred(kind, result string) {
	if m == nil {
		return
	}
	m.deferred.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) observePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(phase).Observe(d.Seconds())
}
