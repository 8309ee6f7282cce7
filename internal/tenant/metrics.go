package tenant

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricConfigCacheLookups = "tenant_config_cache_lookups_total"
	MetricConfigLoadErrors   = "tenant_config_load_errors_total"
)

// Cache lookup results.
const (
	cacheHit   = "hit"
	cacheMiss  = "miss"
	cacheError = "error"
)

// Load error reasons.
const (
	reasonNotFound = "not_found"
	reasonInvalid  = "invalid_config"
	reasonSource   = "source_error"
)

// Metrics contains Prometheus metrics for tenant config resolution.
type Metrics struct {
	cacheLookups *prometheus.CounterVec
	loadErrors   *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricConfigCacheLookups,
				Help: "Tenant ranking config cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		loadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricConfigLoadErrors,
				Help: "Tenant ranking config load failures by reason",
			},
			[]string{"reason"},
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

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.cacheLookups, m.loadErrors}
}

func (m *Metrics) incLookup(result string) {
	if m != nil {
		m.cacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) incLoadError(reason string) {
	if m != nil {
		m.loadErrors.WithLabelValues(reason).Inc()
	}
}
