package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/onnwee/matchrank/internal/geo"
)

const epsilon = 1e-9

func TestExponentialDecay(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		full      float64
		halfLife  float64
		minimum   float64
		wantScore float64
	}{
		{"at threshold", 15, 15, 50, 0.1, 1.0},
		{"inside threshold", 3, 15, 50, 0.1, 1.0},
		{"negative value", -5, 15, 50, 0.1, 1.0},
		{"one half life", 65, 15, 50, 0.1, 0.5},
		{"two half lives", 115, 15, 50, 0.1, 0.25},
		{"floored", 10000, 15, 50, 0.1, 0.1},
		{"zero floor", 10000, 15, 50, 0, 0},
		{"no half life", 20, 15, 0, 0.1, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExponentialDecay(tt.value, tt.full, tt.halfLife, tt.minimum)
			if math.Abs(got-tt.wantScore) > 1e-6 {
				t.Errorf("ExponentialDecay(%v, %v, %v, %v) = %v, want %v",
					tt.value, tt.full, tt.halfLife, tt.minimum, got, tt.wantScore)
			}
		})
	}
}

func TestExponentialDecay_NonIncreasing(t *testing.T) {
	prev := 1.0
	for v := 0.0; v <= 500; v += 2.5 {
		got := ExponentialDecay(v, 15, 50, 0.1)
		if got > prev+epsilon {
			t.Fatalf("decay increased at %v: %v > %v", v, got, prev)
		}
		if got < 0.1-epsilon || got > 1 {
			t.Fatalf("decay out of range at %v: %v", v, got)
		}
		prev = got
	}
}

func TestElapsedDays(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if got := ElapsedDays(now.Add(-36*time.Hour), now); math.Abs(got-1.5) > epsilon {
		t.Errorf("ElapsedDays(36h ago) = %v, want 1.5", got)
	}
	if got := ElapsedDays(now.Add(48*time.Hour), now); got != 0 {
		t.Errorf("ElapsedDays(future) = %v, want 0", got)
	}
}

func TestTimeDecay(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := DecayConfig{Enabled: true, FullScore: 7, HalfLife: 30, Minimum: 0.1}

	tests := []struct {
		name   string
		ts     time.Time
		want   float64
		wantOK bool
	}{
		{"missing timestamp", time.Time{}, 0, false},
		{"three days old", now.AddDate(0, 0, -3), 1.0, true},
		{"one half life past full", now.AddDate(0, 0, -37), 0.5, true},
		{"future timestamp", now.Add(72 * time.Hour), 1.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TimeDecay(tt.ts, now, cfg)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("TimeDecay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistanceDecay(t *testing.T) {
	cfg := DecayConfig{Enabled: true, FullScore: 15, HalfLife: 50, Minimum: 0.1}
	dublin := &geo.Point{Lat: 53.3498, Lng: -6.2603}
	cork := &geo.Point{Lat: 51.8985, Lng: -8.4756}

	if _, ok := DistanceDecay(nil, cork, cfg); ok {
		t.Error("expected missing viewer location to be absent")
	}
	if _, ok := DistanceDecay(dublin, nil, cfg); ok {
		t.Error("expected missing candidate location to be absent")
	}

	got, ok := DistanceDecay(dublin, dublin, cfg)
	if !ok || got != 1.0 {
		t.Errorf("same point = (%v, %v), want (1, true)", got, ok)
	}

	// ~220km is well past the floor.
	got, ok = DistanceDecay(dublin, cork, cfg)
	if !ok || math.Abs(got-0.1) > epsilon {
		t.Errorf("Dublin to Cork = (%v, %v), want (0.1, true)", got, ok)
	}
}
