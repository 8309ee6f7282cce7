package tiers

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricTierRecomputeTotal           = "tier_recompute_total"
	MetricTierRecomputeErrors          = "tier_recompute_errors_total"
	MetricTierRecomputeDuration        = "tier_recompute_duration_seconds"
	MetricTierLastRecomputeTimestamp   = "tier_last_recompute_timestamp"
	MetricTierLastRecomputeMemberCount = "tier_last_recompute_member_count"
	MetricTierChanges                  = "tier_changes_total"
)

// Metrics contains Prometheus metrics for tier recomputation.
// All operations are thread-safe.
type Metrics struct {
	recomputeTotal           prometheus.Counter
	recomputeErrors          prometheus.Counter
	recomputeDuration        prometheus.Histogram
	lastRecomputeTimestamp   prometheus.Gauge
	lastRecomputeMemberCount prometheus.Gauge
	tierChanges              prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		recomputeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTierRecomputeTotal,
			Help: "Total number of completed tier recompute cycles",
		}),
		recomputeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTierRecomputeErrors,
			Help: "Total number of tier recompute errors",
		}),
		recomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricTierRecomputeDuration,
			Help:    "Histogram of tier recompute cycle duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		}),
		lastRecomputeTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricTierLastRecomputeTimestamp,
			Help: "Unix timestamp of the last completed tier recompute",
		}),
		lastRecomputeMemberCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricTierLastRecomputeMemberCount,
			Help: "Number of members reclassified in the last tier recompute",
		}),
		tierChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTierChanges,
			Help: "Total number of members whose tier changed on recompute",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRecomputeTotal increments the recompute total counter.
func (m *Metrics) IncRecomputeTotal() {
	m.recomputeTotal.Inc()
}

// IncRecomputeErrors increments the recompute errors counter.
func (m *Metrics) IncRecomputeErrors() {
	m.recomputeErrors.Inc()
}

// ObserveRecomputeDuration records a recompute duration sample.
func (m *Metrics) ObserveRecomputeDuration(seconds float64) {
	m.recomputeDuration.Observe(seconds)
}

// SetLastRecomputeTimestamp sets the last recompute timestamp gauge.
func (m *Metrics) SetLastRecomputeTimestamp(timestamp float64) {
	m.lastRecomputeTimestamp.Set(timestamp)
}

// SetLastRecomputeMemberCount sets the last recompute member count gauge.
func (m *Metrics) SetLastRecomputeMemberCount(count float64) {
	m.lastRecomputeMemberCount.Set(count)
}

// AddTierChanges adds to the tier changes counter.
func (m *Metrics) AddTierChanges(n float64) {
	m.tierChanges.Add(n)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recomputeTotal,
		m.recomputeErrors,
		m.recomputeDuration,
		m.lastRecomputeTimestamp,
		m.lastRecomputeMemberCount,
		m.tierChanges,
	}
}
