package ranking

import (
	"math"
	"time"

	"github.com/onnwee/matchrank/internal/geo"
)

// hoursPerDay converts durations to fractional days.
const hoursPerDay = 24.0

// ExponentialDecay converts a distance-like value into a score in [minimum, 1].
//
// Values at or below fullScoreThreshold score 1.0. Beyond it the score halves
// every halfLife units and never drops below minimum:
//
//	score = max(minimum, 0.5 ^ ((value - fullScoreThreshold) / halfLife))
//
// A non-positive halfLife means "no decay window": everything past the
// threshold scores minimum.
func ExponentialDecay(value, fullScoreThreshold, halfLife, minimum float64) float64 {
	if value <= fullScoreThreshold {
		return 1.0
	}
	if halfLife <= 0 {
		return clamp(minimum, 0, 1)
	}

	score := math.Pow(0.5, (value-fullScoreThreshold)/halfLife)
	if score < minimum {
		score = minimum
	}
	return clamp(score, 0, 1)
}

// ElapsedDays returns the days between ts and now, clamped to zero when ts
// is in the future (clock skew between writers and the ranking host).
func ElapsedDays(ts, now time.Time) float64 {
	d := now.Sub(ts)
	if d <= 0 {
		return 0
	}
	return d.Hours() / hoursPerDay
}

// TimeDecay applies ExponentialDecay to the age of ts in days, measured
// against now. ok is false when ts is the zero time; the caller should then
// leave the factor out of composition.
func TimeDecay(ts, now time.Time, d DecayConfig) (score float64, ok bool) {
	if ts.IsZero() {
		return 0, false
	}
	return ExponentialDecay(ElapsedDays(ts, now), d.FullScore, d.HalfLife, d.Minimum), true
}

// DistanceDecay applies ExponentialDecay to the great-circle distance in km
// between a and b. ok is false when either coordinate is missing.
func DistanceDecay(a, b *geo.Point, d DecayConfig) (score float64, ok bool) {
	km, ok := geo.DistanceKm(a, b)
	if !ok {
		return 0, false
	}
	return ExponentialDecay(km, d.FullScore, d.HalfLife, d.Minimum), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
