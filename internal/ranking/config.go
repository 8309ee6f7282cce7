package ranking

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Configuration errors. ConfigBuilder.Build wraps every failure in
// ErrInvalidConfig so callers can reject a tenant blob with a single
// errors.Is check.
var (
	ErrInvalidConfig     = errors.New("invalid ranking config")
	ErrWeightOutOfRange  = errors.New("weight must be between 0.0 and 0.5")
	ErrUnknownFactor     = errors.New("unknown ranking factor")
	ErrInvalidParameter  = errors.New("invalid ranking parameter")
	ErrInvalidTierBounds = errors.New("tier thresholds must be ascending and use known tiers in order")
)

// MaxWeight is the upper bound for any single factor weight.
const MaxWeight = 0.5

// WeightSumTolerance is how far a weight set may drift from 1.0 before the
// composite is flagged as unbalanced.
const WeightSumTolerance = 0.01

// Weights maps factors to their composition weight.
type Weights map[Factor]float64

// Sum returns the total weight. Factors are summed in sorted order so the
// result is bit-for-bit reproducible across calls.
func (w Weights) Sum() float64 {
	keys := make([]Factor, 0, len(w))
	for f := range w {
		keys = append(keys, f)
	}
	slices.Sort(keys)

	var sum float64
	for _, f := range keys {
		sum += w[f]
	}
	return sum
}

// Unbalanced reports whether the weights drift more than WeightSumTolerance from 1.0.
func (w Weights) Unbalanced() bool {
	return math.Abs(w.Sum()-1.0) > WeightSumTolerance
}

// Clone returns an independent copy.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for f, v := range w {
		out[f] = v
	}
	return out
}

// DecayConfig parameterizes a distance or time decay factor.
type DecayConfig struct {
	Enabled   bool    `json:"enabled"`
	FullScore float64 `json:"full_score"` // km or days that still score 1.0
	HalfLife  float64 `json:"half_life"`  // km or days per halving beyond FullScore
	Minimum   float64 `json:"minimum"`    // floor
}

// FreshnessAnchor selects which listing timestamp drives freshness.
type FreshnessAnchor string

// Freshness anchors.
const (
	AnchorCreated FreshnessAnchor = "created"
	AnchorUpdated FreshnessAnchor = "updated"
)

// RelevanceConfig tunes the listing relevance boost chain.
type RelevanceConfig struct {
	Enabled       bool    `json:"enabled"`
	CategoryMatch float64 `json:"category_match"`
	SearchBoost   float64 `json:"search_boost"`
	Cap           float64 `json:"cap"`
}

// EngagementConfig tunes the listing engagement factor.
type EngagementConfig struct {
	Enabled       bool    `json:"enabled"`
	ViewWeight    float64 `json:"view_weight"`
	InquiryWeight float64 `json:"inquiry_weight"`
	SaveWeight    float64 `json:"save_weight"`
	Ceiling       float64 `json:"ceiling"`    // fallback normalizer
	Percentile    float64 `json:"percentile"` // percentile of recent engagement used as normalizer
}

// QualityConfig tunes the listing quality boost chain.
type QualityConfig struct {
	Enabled          bool    `json:"enabled"`
	DescriptionMin   int     `json:"description_min"`
	DescriptionBoost float64 `json:"description_boost"`
	ImageBoost       float64 `json:"image_boost"`
	LocationBoost    float64 `json:"location_boost"`
	VerifiedBoost    float64 `json:"verified_boost"`
	Cap              float64 `json:"cap"`
}

// ExchangeConfig tunes the offer/request match boost (Reciprocity for
// listings, Complementary for members).
type ExchangeConfig struct {
	Enabled bool    `json:"enabled"`
	Boost   float64 `json:"boost"`
}

// ContributionConfig tunes the member contribution factor.
type ContributionConfig struct {
	Enabled         bool    `json:"enabled"`
	ListingPoints   float64 `json:"listing_points"`
	HoursMultiplier float64 `json:"hours_multiplier"`
	MaxScore        float64 `json:"max_score"`
}

// ReputationConfig tunes the member reputation factor.
type ReputationConfig struct {
	Enabled          bool    `json:"enabled"`
	AccountAgeMonths float64 `json:"account_age_months"` // months to reach a full age ramp
	VerifiedBoost    float64 `json:"verified_boost"`
	ProfileBoost     float64 `json:"profile_boost"`
	Cap              float64 `json:"cap"`
}

// ConnectivityConfig tunes the member connectivity factor.
type ConnectivityConfig struct {
	Enabled          bool    `json:"enabled"`
	SharedGroupBoost float64 `json:"shared_group_boost"` // applied once per shared group
	InteractionBoost float64 `json:"interaction_boost"`
	Cap              float64 `json:"cap"`
}

// ListingConfig holds the MatchRank parameters.
type ListingConfig struct {
	Weights         Weights          `json:"weights"`
	MaxPerBucket    int              `json:"diversity_max_per_bucket"`
	Relevance       RelevanceConfig  `json:"relevance"`
	Freshness       DecayConfig      `json:"freshness"`
	FreshnessAnchor FreshnessAnchor  `json:"freshness_anchor"`
	Engagement      EngagementConfig `json:"engagement"`
	Geo             DecayConfig      `json:"geo"`
	Quality         QualityConfig    `json:"quality"`
	Reciprocity     ExchangeConfig   `json:"reciprocity"`
}

// MemberConfig holds the CommunityRank parameters.
type MemberConfig struct {
	Weights       Weights            `json:"weights"`
	MaxPerBucket  int                `json:"diversity_max_per_bucket"`
	Activity      DecayConfig        `json:"activity"`
	Contribution  ContributionConfig `json:"contribution"`
	Reputation    ReputationConfig   `json:"reputation"`
	Connectivity  ConnectivityConfig `json:"connectivity"`
	Geo           DecayConfig        `json:"geo"`
	Complementary ExchangeConfig     `json:"complementary"`
	Tiers         []TierThreshold    `json:"tiers"`
}

// RankingConfig is a fully populated snapshot of one tenant's ranking
// parameters. It is built once (see ConfigBuilder) and must be treated as
// read-only afterwards; the engine shares it across scoring goroutines.
type RankingConfig struct {
	Listings ListingConfig `json:"match_rank"`
	Members  MemberConfig  `json:"community_rank"`
}

// DefaultConfig returns the built-in parameters.
//
// MatchRank: relevance 0.25, freshness 0.20, engagement 0.15,
// proximity 0.15, quality 0.15, reciprocity 0.10.
// CommunityRank: activity 0.25, contribution 0.20, reputation 0.20,
// connectivity 0.15, proximity 0.10, complementary 0.10.
func DefaultConfig() *RankingConfig {
	return &RankingConfig{
		Listings: ListingConfig{
			Weights: Weights{
				FactorRelevance:   0.25,
				FactorFreshness:   0.20,
				FactorEngagement:  0.15,
				FactorProximity:   0.15,
				FactorQuality:     0.15,
				FactorReciprocity: 0.10,
			},
			Relevance: RelevanceConfig{
				Enabled:       true,
				CategoryMatch: 1.5,
				SearchBoost:   2.0,
				Cap:           3.0,
			},
			Freshness: DecayConfig{
				Enabled:   true,
				FullScore: 7,
				HalfLife:  30,
				Minimum:   0.1,
			},
			FreshnessAnchor: AnchorCreated,
			Engagement: EngagementConfig{
				Enabled:       true,
				ViewWeight:    1,
				InquiryWeight: 5,
				SaveWeight:    3,
				Ceiling:       100,
				Percentile:    0.9,
			},
			Geo: DecayConfig{
				Enabled:   true,
				FullScore: 15,
				HalfLife:  50,
				Minimum:   0.1,
			},
			Quality: QualityConfig{
				Enabled:          true,
				DescriptionMin:   50,
				DescriptionBoost: 1.5,
				ImageBoost:       1.5,
				LocationBoost:    1.1,
				VerifiedBoost:    1.2,
				Cap:              3.0,
			},
			Reciprocity: ExchangeConfig{
				Enabled: true,
				Boost:   1.5,
			},
		},
		Members: MemberConfig{
			Weights: Weights{
				FactorActivity:      0.25,
				FactorContribution:  0.20,
				FactorReputation:    0.20,
				FactorConnectivity:  0.15,
				FactorProximity:     0.10,
				FactorComplementary: 0.10,
			},
			Activity: DecayConfig{
				Enabled:   true,
				FullScore: 7,
				HalfLife:  30,
				Minimum:   0.1,
			},
			Contribution: ContributionConfig{
				Enabled:         true,
				ListingPoints:   5,
				HoursMultiplier: 2,
				MaxScore:        100,
			},
			Reputation: ReputationConfig{
				Enabled:          true,
				AccountAgeMonths: 12,
				VerifiedBoost:    1.5,
				ProfileBoost:     1.2,
				Cap:              1.8,
			},
			Connectivity: ConnectivityConfig{
				Enabled:          true,
				SharedGroupBoost: 1.2,
				InteractionBoost: 1.5,
				Cap:              3.0,
			},
			Geo: DecayConfig{
				Enabled:   true,
				FullScore: 15,
				HalfLife:  50,
				Minimum:   0.1,
			},
			Complementary: ExchangeConfig{
				Enabled: true,
				Boost:   1.5,
			},
			Tiers: DefaultTierThresholds(),
		},
	}
}

// Clone returns a deep copy of the configuration.
func (c *RankingConfig) Clone() *RankingConfig {
	out := *c
	out.Listings.Weights = c.Listings.Weights.Clone()
	out.Members.Weights = c.Members.Weights.Clone()
	out.Members.Tiers = slices.Clone(c.Members.Tiers)
	return &out
}

// Validate checks structural ranges. Weight balance is not checked here; an
// unbalanced set is reported per composite instead.
// Returns a slice of validation errors (empty if valid).
func (c *RankingConfig) Validate() []error {
	var errs []error

	errs = append(errs, validateWeights("match_rank", c.Listings.Weights, ListingFactors)...)
	errs = append(errs, validateWeights("community_rank", c.Members.Weights, MemberFactors)...)

	l := c.Listings
	errs = appendIf(errs, l.MaxPerBucket < 0, "match_rank.diversity_max_per_bucket must be >= 0")
	errs = appendIf(errs, l.Relevance.CategoryMatch < 1, "match_rank.relevance_category_match must be >= 1")
	errs = appendIf(errs, l.Relevance.SearchBoost < 1, "match_rank.relevance_search_boost must be >= 1")
	errs = appendIf(errs, l.Relevance.Cap < 1, "match_rank.relevance_cap must be >= 1")
	errs = append(errs, validateDecay("match_rank.freshness", l.Freshness)...)
	errs = appendIf(errs, l.FreshnessAnchor != AnchorCreated && l.FreshnessAnchor != AnchorUpdated,
		"match_rank.freshness_anchor must be created or updated")
	errs = appendIf(errs, l.Engagement.ViewWeight < 0 || l.Engagement.InquiryWeight < 0 || l.Engagement.SaveWeight < 0,
		"match_rank.engagement weights must be >= 0")
	errs = appendIf(errs, l.Engagement.Ceiling <= 0, "match_rank.engagement_ceiling must be > 0")
	errs = appendIf(errs, l.Engagement.Percentile <= 0 || l.Engagement.Percentile > 1,
		"match_rank.engagement_percentile must be in (0, 1]")
	errs = append(errs, validateDecay("match_rank.geo", l.Geo)...)
	errs = appendIf(errs, l.Quality.DescriptionMin < 0, "match_rank.quality_description_min must be >= 0")
	errs = appendIf(errs, l.Quality.DescriptionBoost < 1 || l.Quality.ImageBoost < 1 ||
		l.Quality.LocationBoost < 1 || l.Quality.VerifiedBoost < 1,
		"match_rank.quality boosts must be >= 1")
	errs = appendIf(errs, l.Quality.Cap < 1, "match_rank.quality_cap must be >= 1")
	errs = appendIf(errs, l.Reciprocity.Boost < 1, "match_rank.reciprocity_boost must be >= 1")

	m := c.Members
	errs = appendIf(errs, m.MaxPerBucket < 0, "community_rank.diversity_max_per_bucket must be >= 0")
	errs = append(errs, validateDecay("community_rank.activity", m.Activity)...)
	errs = appendIf(errs, m.Contribution.ListingPoints < 0 || m.Contribution.HoursMultiplier < 0,
		"community_rank.contribution points must be >= 0")
	errs = appendIf(errs, m.Contribution.MaxScore <= 0, "community_rank.contribution_max_score must be > 0")
	errs = appendIf(errs, m.Reputation.AccountAgeMonths <= 0, "community_rank.reputation_account_age_months must be > 0")
	errs = appendIf(errs, m.Reputation.VerifiedBoost < 1 || m.Reputation.ProfileBoost < 1,
		"community_rank.reputation boosts must be >= 1")
	errs = appendIf(errs, m.Reputation.Cap < 1, "community_rank.reputation_cap must be >= 1")
	errs = appendIf(errs, m.Connectivity.SharedGroupBoost < 1 || m.Connectivity.InteractionBoost < 1,
		"community_rank.connectivity boosts must be >= 1")
	errs = appendIf(errs, m.Connectivity.Cap < 1, "community_rank.connectivity_cap must be >= 1")
	errs = append(errs, validateDecay("community_rank.geo", m.Geo)...)
	errs = appendIf(errs, m.Complementary.Boost < 1, "community_rank.complementary_boost must be >= 1")
	if err := ValidateTiers(m.Tiers); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// WeightBalance describes one ranking type's weight set.
type WeightBalance struct {
	Sum        float64 `json:"sum"`
	Unbalanced bool    `json:"unbalanced"`
	Weights    Weights `json:"weights"`
}

// WeightReport summarizes weight balance for both ranking types, for admin
// previews before a configuration is saved.
type WeightReport struct {
	Listings WeightBalance `json:"match_rank"`
	Members  WeightBalance `json:"community_rank"`
}

// WeightReport returns the balance of both weight sets.
func (c *RankingConfig) WeightReport() WeightReport {
	return WeightReport{
		Listings: WeightBalance{
			Sum:        c.Listings.Weights.Sum(),
			Unbalanced: c.Listings.Weights.Unbalanced(),
			Weights:    c.Listings.Weights.Clone(),
		},
		Members: WeightBalance{
			Sum:        c.Members.Weights.Sum(),
			Unbalanced: c.Members.Weights.Unbalanced(),
			Weights:    c.Members.Weights.Clone(),
		},
	}
}

func validateWeights(section string, w Weights, allowed []Factor) []error {
	keys := make([]Factor, 0, len(w))
	for f := range w {
		keys = append(keys, f)
	}
	slices.Sort(keys)

	var errs []error
	for _, f := range keys {
		v := w[f]
		if !slices.Contains(allowed, f) {
			errs = append(errs, fmt.Errorf("%s.weight_%s: %w", section, f, ErrUnknownFactor))
			continue
		}
		if math.IsNaN(v) || v < 0 || v > MaxWeight {
			errs = append(errs, fmt.Errorf("%s.weight_%s=%g: %w", section, f, v, ErrWeightOutOfRange))
		}
	}
	return errs
}

func validateDecay(prefix string, d DecayConfig) []error {
	var errs []error
	errs = appendIf(errs, d.FullScore < 0, prefix+" full score must be >= 0")
	errs = appendIf(errs, d.HalfLife <= 0, prefix+" half life must be > 0")
	errs = appendIf(errs, d.Minimum < 0 || d.Minimum > 1, prefix+" minimum must be in [0, 1]")
	return errs
}

func appendIf(errs []error, cond bool, msg string) []error {
	if cond {
		return append(errs, fmt.Errorf("%s: %w", msg, ErrInvalidParameter))
	}
	return errs
}
