package ranking

import (
	"math"
	"slices"
)

// CompositeScore is the weighted ranking value for one candidate together
// with the factor scores that produced it.
type CompositeScore struct {
	// Value is the renormalized weighted mean of the present factors, in [0, 1].
	Value float64 `json:"value"`
	// Factors are the contributing factor scores, for explainability.
	Factors []FactorScore `json:"factors"`
	// PresentWeight is the sum of the weights of the factors that were present.
	PresentWeight float64 `json:"present_weight"`
	// WeightSum is the sum of all configured weights.
	WeightSum float64 `json:"weight_sum"`
	// WeightsUnbalanced is an advisory flag set when WeightSum drifts from 1.0.
	WeightsUnbalanced bool `json:"weights_unbalanced,omitempty"`
}

// Factor returns the value of factor f and whether it was present.
func (c CompositeScore) Factor(f Factor) (float64, bool) {
	i := slices.IndexFunc(c.Factors, func(s FactorScore) bool { return s.Factor == f })
	if i < 0 {
		return 0, false
	}
	return c.Factors[i].Value, true
}

// Compose combines factor scores into one composite.
//
// Factors that could not be computed are absent from factorScores rather than
// zero. The weighted sum is divided by the weight of the factors actually
// present, so a candidate missing (say) coordinates is judged on the data it
// has:
//
//	value = sum(score_f * w_f) / sum(w_f)   for f in present factors
//
// With no present weight the composite is 0. Unbalanced weights still produce
// a result; the WeightsUnbalanced flag is advisory only.
func Compose(factorScores []FactorScore, weights Weights) CompositeScore {
	var weighted, present float64
	for _, fs := range factorScores {
		w := weights[fs.Factor]
		weighted += fs.Value * w
		present += w
	}

	value := 0.0
	if present > 0 {
		value = clamp(weighted/present, 0, 1)
	}
	if math.IsNaN(value) {
		value = 0
	}

	factors := slices.Clone(factorScores)
	if factors == nil {
		factors = []FactorScore{}
	}

	sum := weights.Sum()
	return CompositeScore{
		Value:             value,
		Factors:           factors,
		PresentWeight:     present,
		WeightSum:         sum,
		WeightsUnbalanced: math.Abs(sum-1.0) > WeightSumTolerance,
	}
}
