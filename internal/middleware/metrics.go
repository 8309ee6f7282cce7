package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTP metric names.
const (
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
	MetricHTTPRequestsInFlight  = "http_requests_in_flight"
)

// Observation describes one completed request. Route must already be
// normalized with NormalizePath.
type Observation struct {
	Method       string
	Route        string
	Status       string
	Duration     time.Duration
	RequestSize  int64
	ResponseSize int64
}

// Metrics holds the HTTP server collectors. Safe for concurrent use.
type Metrics struct {
	duration     *prometheus.HistogramVec
	requests     *prometheus.CounterVec
	requestSize  *prometheus.HistogramVec
	responseSize *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
}

// NewMetrics creates unregistered HTTP metrics.
func NewMetrics() *Metrics {
	labels := []string{"method", "path", "status"}
	// Ranking bodies run from a few hundred bytes to several MB.
	sizeBuckets := prometheus.ExponentialBuckets(100, 10, 6)
	return &Metrics{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
			},
			labels,
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			labels,
		),
		requestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestSizeBytes,
				Help:    "HTTP request size in bytes",
				Buckets: sizeBuckets,
			},
			labels,
		),
		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPResponseSizeBytes,
				Help:    "HTTP response size in bytes",
				Buckets: sizeBuckets,
			},
			labels,
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricHTTPRequestsInFlight,
				Help: "Requests currently being served, by route",
			},
			[]string{"path"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// trackInFlight increments the in-flight gauge for route and returns the
// matching decrement.
func (m *Metrics) trackInFlight(route string) func() {
	g := m.inFlight.WithLabelValues(route)
	g.Inc()
	return g.Dec
}

// Observe records one completed request.
func (m *Metrics) Observe(o Observation) {
	labels := prometheus.Labels{
		"method": o.Method,
		"path":   o.Route,
		"status": o.Status,
	}
	m.duration.With(labels).Observe(o.Duration.Seconds())
	m.requests.With(labels).Inc()
	m.requestSize.With(labels).Observe(float64(o.RequestSize))
	m.responseSize.With(labels).Observe(float64(o.ResponseSize))
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.duration,
		m.requests,
		m.requestSize,
		m.responseSize,
		m.inFlight,
	}
}
