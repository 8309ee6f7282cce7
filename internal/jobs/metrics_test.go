package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_Register(t *testing.T) {
	t.Run("successful registration", func(t *testing.T) {
		m := NewMetrics()
		reg := prometheus.NewRegistry()

		if err := m.Register(reg); err != nil {
			t.Fatalf("Register() returned error: %v", err)
		}

		m.ObserveRun(JobTypeTierRecompute, OutcomeSuccess, time.Second, 3)
		m.IncJobErrors(JobTypeTierRecompute, ErrorTypeTimeout)

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() returned error: %v", err)
		}

		found := map[string]bool{}
		for _, family := range families {
			found[family.GetName()] = true
		}
		for _, name := range []string{
			MetricBackgroundJobsTotal,
			MetricBackgroundJobsDuration,
			MetricBackgroundJobErrorsTotal,
			MetricBackgroundJobItemsTotal,
			MetricBackgroundJobLastSuccess,
		} {
			if !found[name] {
				t.Errorf("metric %s not found in gathered metrics", name)
			}
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := NewMetrics().Register(reg); err != nil {
			t.Fatalf("first Register() returned error: %v", err)
		}
		if err := NewMetrics().Register(reg); err == nil {
			t.Error("second Register() should have returned an error")
		}
	})
}

func metricValue(t *testing.T, c prometheus.Collector) *dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	metric, ok := <-ch
	if !ok {
		return nil
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return &m
}

func TestMetrics_ObserveRun(t *testing.T) {
	tests := []struct {
		name            string
		outcome         Outcome
		items           int
		wantItems       float64
		wantLastSuccess bool
	}{
		{name: "success", outcome: OutcomeSuccess, items: 4, wantItems: 4, wantLastSuccess: true},
		{name: "partial", outcome: OutcomePartial, items: 2, wantItems: 2},
		{name: "timeout with nothing done", outcome: OutcomeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()

			m.ObserveRun(JobTypeTierRecompute, tt.outcome, 250*time.Millisecond, tt.items)

			total := metricValue(t, m.jobsTotal.WithLabelValues(JobTypeTierRecompute, string(tt.outcome)))
			if got := total.GetCounter().GetValue(); got != 1 {
				t.Errorf("jobs total = %v, want 1", got)
			}

			hist := metricValue(t, m.jobsDuration.WithLabelValues(JobTypeTierRecompute).(prometheus.Histogram))
			if got := hist.GetHistogram().GetSampleSum(); got != 0.25 {
				t.Errorf("duration sum = %v, want 0.25", got)
			}

			items := metricValue(t, m.itemsTotal)
			gotItems := 0.0
			if items != nil {
				gotItems = items.GetCounter().GetValue()
			}
			if gotItems != tt.wantItems {
				t.Errorf("items = %v, want %v", gotItems, tt.wantItems)
			}

			last := metricValue(t, m.lastSuccess)
			if (last != nil) != tt.wantLastSuccess {
				t.Errorf("last success set = %v, want %v", last != nil, tt.wantLastSuccess)
			}
			if last != nil && last.GetGauge().GetValue() <= 0 {
				t.Error("last success timestamp not set")
			}
		})
	}
}

type recorder struct {
	mu      sync.Mutex
	runs    []Outcome
	items   int
	errors  map[string]int
	elapsed time.Duration
}

func (r *recorder) ObserveRun(_ string, outcome Outcome, elapsed time.Duration, items int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, outcome)
	r.items += items
	r.elapsed = elapsed
}

func (r *recorder) IncJobErrors(_, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errors == nil {
		r.errors = map[string]int{}
	}
	r.errors[errorType]++
}

func TestRun(t *testing.T) {
	rec := &recorder{}
	run := StartRun(rec, JobTypeTierRecompute)

	run.Error(ErrorTypeConfig)
	run.Error(ErrorTypeRecompute)
	time.Sleep(5 * time.Millisecond)
	elapsed := run.Finish(OutcomePartial, 7)

	if run.Errors() != 2 {
		t.Errorf("Errors() = %d, want 2", run.Errors())
	}
	if elapsed < 5*time.Millisecond || rec.elapsed != elapsed {
		t.Errorf("elapsed = %v, reported %v", elapsed, rec.elapsed)
	}
	if len(rec.runs) != 1 || rec.runs[0] != OutcomePartial || rec.items != 7 {
		t.Errorf("runs = %v items = %d", rec.runs, rec.items)
	}
	if rec.errors[ErrorTypeConfig] != 1 || rec.errors[ErrorTypeRecompute] != 1 {
		t.Errorf("errors = %v", rec.errors)
	}
}

func TestRun_NilReporter(t *testing.T) {
	run := StartRun(nil, JobTypeTierRecompute)
	run.Error(ErrorTypeTimeout)
	run.Finish(OutcomeTimeout, 0)

	if run.Errors() != 1 {
		t.Errorf("Errors() = %d, want 1", run.Errors())
	}
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}

	const goroutines, perGoroutine = 20, 50
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				run := StartRun(m, JobTypeTierRecompute)
				run.Error(ErrorTypeRecompute)
				run.Finish(OutcomePartial, 1)
			}
		}()
	}
	wg.Wait()

	want := float64(goroutines * perGoroutine)
	if got := metricValue(t, m.itemsTotal).GetCounter().GetValue(); got != want {
		t.Errorf("items = %v, want %v", got, want)
	}
	if got := metricValue(t, m.jobErrors).GetCounter().GetValue(); got != want {
		t.Errorf("errors = %v, want %v", got, want)
	}
}
