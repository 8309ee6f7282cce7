package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRankingRequests          = "ranking_requests_total"
	MetricRankingDuration          = "ranking_duration_seconds"
	MetricRankingCandidatesScored  = "ranking_candidates_scored_total"
	MetricRankingUnbalancedWeights = "ranking_unbalanced_weights_total"
	MetricRankingTimeouts          = "ranking_timeouts_total"
	MetricRankingDemoted           = "ranking_demoted_candidates_total"
)

// Ranking kinds used as the "type" label.
const (
	KindListings = "listings"
	KindMembers  = "members"
)

// Metrics contains Prometheus metrics for ranking calls.
// All operations are thread-safe.
type Metrics struct {
	requests          *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	candidatesScored  *prometheus.CounterVec
	unbalancedWeights *prometheus.CounterVec
	timeouts          *prometheus.CounterVec
	demoted           *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRankingRequests,
			Help: "Total number of ranking calls by type",
		}, []string{"type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricRankingDuration,
			Help:    "Histogram of ranking call duration in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"type"}),
		candidatesScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRankingCandidatesScored,
			Help: "Total number of candidates scored by type",
		}, []string{"type"}),
		unbalancedWeights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRankingUnbalancedWeights,
			Help: "Total number of ranking calls made with weights that do not sum to 1.0",
		}, []string{"type"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRankingTimeouts,
			Help: "Total number of ranking calls abandoned because the context ended",
		}, []string{"type"}),
		demoted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRankingDemoted,
			Help: "Total number of candidates moved to the tail by the diversity cap",
		}, []string{"type"}),
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

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests,
		m.duration,
		m.candidatesScored,
		m.unbalancedWeights,
		m.timeouts,
		m.demoted,
	}
}

// The recorders below are nil-safe so the engine can run without metrics.

func (m *Metrics) observeRequest(kind string, seconds float64, scored int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind).Inc()
	m.duration.WithLabelValues(kind).Observe(seconds)
	m.candidatesScored.WithLabelValues(kind).Add(float64(scored))
}

func (m *Metrics) incUnbalanced(kind string) {
	if m == nil {
		return
	}
	m.unbalancedWeights.WithLabelValues(kind).Inc()
}

func (m *Metrics) incTimeout(kind string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(kind).Inc()
}

func (m *Metrics) addDemoted(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.demoted.WithLabelValues(kind).Add(float64(n))
}
