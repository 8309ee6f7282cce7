package ranking

import (
	"slices"
	"strings"
)

// Factor identifies one scoring dimension.
type Factor string

// MatchRank (listing) factors.
const (
	FactorRelevance   Factor = "relevance"
	FactorFreshness   Factor = "freshness"
	FactorEngagement  Factor = "engagement"
	FactorProximity   Factor = "proximity"
	FactorQuality     Factor = "quality"
	FactorReciprocity Factor = "reciprocity"
)

// CommunityRank (member) factors. Proximity is shared with MatchRank.
const (
	FactorActivity      Factor = "activity"
	FactorContribution  Factor = "contribution"
	FactorReputation    Factor = "reputation"
	FactorConnectivity  Factor = "connectivity"
	FactorComplementary Factor = "complementary"
)

// ListingFactors lists the MatchRank factors in evaluation order.
var ListingFactors = []Factor{
	FactorRelevance,
	FactorFreshness,
	FactorEngagement,
	FactorProximity,
	FactorQuality,
	FactorReciprocity,
}

// MemberFactors lists the CommunityRank factors in evaluation order.
var MemberFactors = []Factor{
	FactorActivity,
	FactorContribution,
	FactorReputation,
	FactorConnectivity,
	FactorProximity,
	FactorComplementary,
}

// FactorScore is one normalized factor value for a candidate.
type FactorScore struct {
	Factor Factor  `json:"factor"`
	Value  float64 `json:"value"`
}

// neutral is the score of a disabled factor. Disabling must remove the
// factor's discriminating effect without dragging the composite down.
const neutral = 1.0

// Boost chains are evaluated as compose -> clamp -> normalize:
//
//	raw    = base * m1 * m2 * ...
//	capped = min(raw, cap)
//	score  = capped / cap
//
// Each step is its own function so the pipeline stays testable.

// composeBoosts multiplies base by every multiplier.
func composeBoosts(base float64, multipliers ...float64) float64 {
	v := base
	for _, m := range multipliers {
		v *= m
	}
	return v
}

// clampToCap bounds a composed boost chain at cap.
func clampToCap(v, cap float64) float64 {
	if v > cap {
		return cap
	}
	if v < 0 {
		return 0
	}
	return v
}

// normalizeByCap maps a capped value onto [0, 1].
func normalizeByCap(v, cap float64) float64 {
	if cap <= 0 {
		return 0
	}
	return clamp(v/cap, 0, 1)
}

// boostScore runs the full compose/clamp/normalize pipeline on a base of 1.0.
func boostScore(cap float64, multipliers ...float64) float64 {
	return normalizeByCap(clampToCap(composeBoosts(1.0, multipliers...), cap), cap)
}

// applyIf returns m when cond holds and the identity multiplier otherwise.
func applyIf(cond bool, m float64) float64 {
	if cond {
		return m
	}
	return 1.0
}

// normalizeTag folds a tag for case-insensitive comparison.
func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// tagSet builds a lookup set of normalized, non-empty tags.
func tagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if n := normalizeTag(t); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// intersects reports whether any tag in a appears in b.
func intersects(a []string, b map[string]struct{}) bool {
	if len(b) == 0 {
		return false
	}
	for _, t := range a {
		if _, ok := b[normalizeTag(t)]; ok {
			return true
		}
	}
	return false
}

// countShared returns how many distinct normalized tags a and b share.
func countShared(a, b []string) int {
	bs := tagSet(b)
	seen := make(map[string]struct{}, len(a))
	n := 0
	for _, t := range a {
		k := normalizeTag(t)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := bs[k]; ok {
			n++
		}
	}
	return n
}

// exchangeMatch reports whether the viewer and candidate can trade: the
// viewer offers something the candidate requests, or the candidate offers
// something the viewer requests. The check is symmetric in its inputs.
func exchangeMatch(viewerOffered, viewerRequested, candOffered, candRequested []string) bool {
	return intersects(viewerOffered, tagSet(candRequested)) ||
		intersects(candOffered, tagSet(viewerRequested))
}

// containsFold reports whether needle is one of haystack, ignoring case.
func containsFold(haystack []string, needle string) bool {
	n := normalizeTag(needle)
	if n == "" {
		return false
	}
	return slices.ContainsFunc(haystack, func(s string) bool {
		return normalizeTag(s) == n
	})
}
