// Package jobs tracks the background jobs that run alongside the ranking API.
package jobs

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
	MetricBackgroundJobItemsTotal  = "background_job_items_processed_total"
	MetricBackgroundJobLastSuccess = "background_job_last_success_timestamp_seconds"
)

// JobTypeTierRecompute labels the member tier recompute job.
const JobTypeTierRecompute = "tier_recompute"

// Outcome is how a run ended.
type Outcome string

const (
	// OutcomeSuccess means every item was processed.
	OutcomeSuccess Outcome = "success"
	// OutcomePartial means the run finished but some items failed and
	// will be retried.
	OutcomePartial Outcome = "partial"
	// OutcomeTimeout means the run hit its deadline before finishing.
	OutcomeTimeout Outcome = "timeout"
)

// Error type labels.
const (
	ErrorTypeTimeout   = "timeout"
	ErrorTypeConfig    = "config_error"
	ErrorTypeRecompute = "recompute_error"
)

// Reporter receives job telemetry.
type Reporter interface {
	ObserveRun(jobType string, outcome Outcome, elapsed time.Duration, items int)
	IncJobErrors(jobType, errorType string)
}

// Run tracks one execution of a job. A Run with a nil Reporter only counts.
type Run struct {
	reporter Reporter
	jobType  string
	started  time.Time
	errors   atomic.Int64
}

// StartRun begins tracking an execution of jobType.
func StartRun(r Reporter, jobType string) *Run {
	return &Run{reporter: r, jobType: jobType, started: time.Now()}
}

// Error records a failed item or step.
func (r *Run) Error(errorType string) {
	r.errors.Add(1)
	if r.reporter != nil {
		r.reporter.IncJobErrors(r.jobType, errorType)
	}
}

// Errors returns how many errors the run has recorded.
func (r *Run) Errors() int {
	return int(r.errors.Load())
}

// Finish reports the run and returns its elapsed time.
func (r *Run) Finish(outcome Outcome, items int) time.Duration {
	elapsed := time.Since(r.started)
	if r.reporter != nil {
		r.reporter.ObserveRun(r.jobType, outcome, elapsed, items)
	}
	return elapsed
}

// Metrics is the Prometheus Reporter.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
	itemsTotal   *prometheus.CounterVec
	lastSuccess  *prometheus.GaugeVec
}

var _ Reporter = (*Metrics)(nil)

// NewMetrics creates unregistered job metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobsTotal,
				Help: "Background job runs by job type and outcome",
			},
			[]string{"job_type", "outcome"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricBackgroundJobsDuration,
				Help:    "Background job run duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobErrorsTotal,
				Help: "Background job errors by job type and error type",
			},
			[]string{"job_type", "error_type"},
		),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobItemsTotal,
				Help: "Items successfully processed by background jobs",
			},
			[]string{"job_type"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricBackgroundJobLastSuccess,
				Help: "Unix time of the last run that processed every item",
			},
			[]string{"job_type"},
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

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(jobType string, outcome Outcome, elapsed time.Duration, items int) {
	m.jobsTotal.WithLabelValues(jobType, string(outcome)).Inc()
	m.jobsDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
	if items > 0 {
		m.itemsTotal.WithLabelValues(jobType).Add(float64(items))
	}
	if outcome == OutcomeSuccess {
		m.lastSuccess.WithLabelValues(jobType).SetToCurrentTime()
	}
}

// IncJobErrors increments the job errors counter.
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.jobErrors,
		m.itemsTotal,
		m.lastSuccess,
	}
}
