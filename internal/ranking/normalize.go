package ranking

import (
	"math"
	"slices"
)

// Percentile returns the p-th percentile (p in (0, 1]) of samples using
// linear interpolation between closest ranks. Returns 0 for no samples.
func Percentile(samples []float64, p float64) float64 {
	clean := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !math.IsNaN(s) && !math.IsInf(s, 0) {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return 0
	}
	slices.Sort(clean)

	p = clamp(p, 0, 1)
	pos := p * float64(len(clean)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return clean[lo]
	}
	frac := pos - float64(lo)
	return clean[lo] + (clean[hi]-clean[lo])*frac
}

// EngagementNormalizer picks the divisor for the engagement factor: the
// configured percentile of recent raw engagement, or the configured ceiling
// when there are no samples or the percentile is not positive.
func EngagementNormalizer(samples []float64, cfg EngagementConfig) float64 {
	if p := Percentile(samples, cfg.Percentile); p > 0 {
		return p
	}
	return cfg.Ceiling
}

// RawEngagement is the weighted, unnormalized engagement of a listing. It is
// exported so callers can build percentile samples from recent listings.
func RawEngagement(c *Candidate, cfg EngagementConfig) float64 {
	return float64(c.Views)*cfg.ViewWeight +
		float64(c.Inquiries)*cfg.InquiryWeight +
		float64(c.Saves)*cfg.SaveWeight
}
