package ranking

import (
	"fmt"
	"slices"
)

// Tier is a named reputation band derived from a member's composite score.
// Tiers are computed on every read and never stored by the engine.
type Tier string

// Tiers from lowest to highest.
const (
	TierNovice       Tier = "Novice"
	TierBeginner     Tier = "Beginner"
	TierDeveloping   Tier = "Developing"
	TierIntermediate Tier = "Intermediate"
	TierProficient   Tier = "Proficient"
	TierAdvanced     Tier = "Advanced"
	TierExpert       Tier = "Expert"
	TierElite        Tier = "Elite"
	TierLegendary    Tier = "Legendary"
)

// tierOrder is the canonical ascending order of tiers.
var tierOrder = []Tier{
	TierNovice,
	TierBeginner,
	TierDeveloping,
	TierIntermediate,
	TierProficient,
	TierAdvanced,
	TierExpert,
	TierElite,
	TierLegendary,
}

// Rank returns the tier's position in the ascending order, or -1 if unknown.
func (t Tier) Rank() int {
	return slices.Index(tierOrder, t)
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// TierThreshold is the inclusive lower bound of a tier.
type TierThreshold struct {
	Tier     Tier    `json:"name" koanf:"name"`
	MinScore float64 `json:"min_score" koanf:"min_score"`
}

// DefaultTierThresholds returns the built-in tier bands on the [0, 1]
// composite scale.
func DefaultTierThresholds() []TierThreshold {
	return []TierThreshold{
		{Tier: TierNovice, MinScore: 0.0},
		{Tier: TierBeginner, MinScore: 0.10},
		{Tier: TierDeveloping, MinScore: 0.20},
		{Tier: TierIntermediate, MinScore: 0.30},
		{Tier: TierProficient, MinScore: 0.40},
		{Tier: TierAdvanced, MinScore: 0.50},
		{Tier: TierExpert, MinScore: 0.65},
		{Tier: TierElite, MinScore: 0.80},
		{Tier: TierLegendary, MinScore: 0.90},
	}
}

// ValidateTiers checks that thresholds are non-empty, strictly ascending,
// and name known tiers in canonical order.
func ValidateTiers(thresholds []TierThreshold) error {
	if len(thresholds) == 0 {
		return fmt.Errorf("no tiers defined: %w", ErrInvalidTierBounds)
	}
	for i, th := range thresholds {
		if !th.Tier.Valid() {
			return fmt.Errorf("unknown tier %q: %w", th.Tier, ErrInvalidTierBounds)
		}
		if i == 0 {
			continue
		}
		prev := thresholds[i-1]
		if th.MinScore <= prev.MinScore {
			return fmt.Errorf("tier %s min_score %g not above %s min_score %g: %w",
				th.Tier, th.MinScore, prev.Tier, prev.MinScore, ErrInvalidTierBounds)
		}
		if th.Tier.Rank() <= prev.Tier.Rank() {
			return fmt.Errorf("tier %s listed after %s: %w", th.Tier, prev.Tier, ErrInvalidTierBounds)
		}
	}
	return nil
}

// Classify maps a composite score to the highest tier whose lower bound is
// at or below score. A score exactly on a boundary belongs to the higher
// tier. Scores below the first bound fall into the lowest defined tier.
// An empty threshold list uses DefaultTierThresholds.
func Classify(score float64, thresholds []TierThreshold) Tier {
	if len(thresholds) == 0 {
		thresholds = DefaultTierThresholds()
	}

	tier := thresholds[0].Tier
	for _, th := range thresholds {
		if score >= th.MinScore {
			tier = th.Tier
			continue
		}
		break
	}
	return tier
}
