package tiers

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}

	collectors := m.Collectors()
	if len(collectors) != 6 {
		t.Errorf("expected 6 collectors, got %d", len(collectors))
	}
}

func TestMetrics_Register(t *testing.T) {
	t.Run("successful registration", func(t *testing.T) {
		m := NewMetrics()
		reg := prometheus.NewRegistry()

		if err := m.Register(reg); err != nil {
			t.Errorf("Register() returned error: %v", err)
		}

		// Counters and gauges are gathered once touched.
		m.IncRecomputeTotal()
		m.ObserveRecomputeDuration(0.2)
		families, err := reg.Gather()
		if err != nil {
			t.Errorf("Gather() returned error: %v", err)
		}

		expectedNames := map[string]bool{
			MetricTierRecomputeTotal:           false,
			MetricTierRecomputeErrors:          false,
			MetricTierRecomputeDuration:        false,
			MetricTierLastRecomputeTimestamp:   false,
			MetricTierLastRecomputeMemberCount: false,
			MetricTierChanges:                  false,
		}
		for _, family := range families {
			if _, ok := expectedNames[family.GetName()]; ok {
				expectedNames[family.GetName()] = true
			}
		}
		for name, found := range expectedNames {
			if !found {
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

func TestMetrics_Values(t *testing.T) {
	m := NewMetrics()
	m.IncRecomputeTotal()
	m.IncRecomputeErrors()
	m.IncRecomputeErrors()
	m.AddTierChanges(3)

	if got := counterValue(t, m.recomputeTotal); got != 1 {
		t.Errorf("recompute total = %v, want 1", got)
	}
	if got := counterValue(t, m.recomputeErrors); got != 2 {
		t.Errorf("recompute errors = %v, want 2", got)
	}
	if got := counterValue(t, m.tierChanges); got != 3 {
		t.Errorf("tier changes = %v, want 3", got)
	}

	m.SetLastRecomputeMemberCount(12)
	var g dto.Metric
	if err := m.lastRecomputeMemberCount.Write(&g); err != nil {
		t.Fatal(err)
	}
	if g.GetGauge().GetValue() != 12 {
		t.Errorf("member count gauge = %v, want 12", g.GetGauge().GetValue())
	}
}
