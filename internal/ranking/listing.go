package ranking

import "strings"

// ScoreListing computes the MatchRank composite for one listing.
//
// viewer may be nil for viewer-independent scoring; factors that need the
// viewer (relevance, proximity, reciprocity) are then left out and the
// composite is renormalized over the rest.
func ScoreListing(c *Candidate, viewer *ViewerContext, cfg *ListingConfig, sc ScoringContext) CompositeScore {
	scores := make([]FactorScore, 0, len(ListingFactors))
	add := func(f Factor, v float64, ok bool) {
		if ok {
			scores = append(scores, FactorScore{Factor: f, Value: v})
		}
	}

	v, ok := relevanceScore(c, viewer, cfg.Relevance)
	add(FactorRelevance, v, ok)
	v, ok = freshnessScore(c, cfg, sc)
	add(FactorFreshness, v, ok)
	v, ok = engagementScore(c, cfg.Engagement, sc)
	add(FactorEngagement, v, ok)
	v, ok = proximityScore(c, viewer, cfg.Geo)
	add(FactorProximity, v, ok)
	v, ok = qualityScore(c, cfg.Quality)
	add(FactorQuality, v, ok)
	v, ok = reciprocityScore(c, viewer, cfg.Reciprocity)
	add(FactorReciprocity, v, ok)

	return Compose(scores, cfg.Weights)
}

// relevanceScore boosts preferred categories and query matches, then caps
// and normalizes.
func relevanceScore(c *Candidate, viewer *ViewerContext, cfg RelevanceConfig) (float64, bool) {
	if !cfg.Enabled {
		return neutral, true
	}
	if viewer == nil {
		return 0, false
	}

	categoryHit := containsFold(viewer.PreferredCategories, c.Category)
	queryHit := matchesQuery(viewer.Query, c.Title, c.Description)

	return boostScore(cfg.Cap,
		applyIf(categoryHit, cfg.CategoryMatch),
		applyIf(queryHit, cfg.SearchBoost),
	), true
}

// matchesQuery reports whether any whitespace-separated query term occurs
// in one of the fields, ignoring case.
func matchesQuery(query string, fields ...string) bool {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return false
	}
	for _, field := range fields {
		lower := strings.ToLower(field)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				return true
			}
		}
	}
	return false
}

// freshnessScore decays the listing's anchor timestamp. With the updated
// anchor, a listing that was never updated falls back to its creation time.
func freshnessScore(c *Candidate, cfg *ListingConfig, sc ScoringContext) (float64, bool) {
	if !cfg.Freshness.Enabled {
		return neutral, true
	}
	anchor := c.CreatedAt
	if cfg.FreshnessAnchor == AnchorUpdated && !c.UpdatedAt.IsZero() {
		anchor = c.UpdatedAt
	}
	return TimeDecay(anchor, sc.Now, cfg.Freshness)
}

// engagementScore normalizes weighted engagement counters into [0, 1].
func engagementScore(c *Candidate, cfg EngagementConfig, sc ScoringContext) (float64, bool) {
	if !cfg.Enabled {
		return neutral, true
	}
	norm := sc.EngagementNormalizer
	if norm <= 0 {
		norm = cfg.Ceiling
	}
	if norm <= 0 {
		return 0, false
	}
	return clamp(RawEngagement(c, cfg)/norm, 0, 1), true
}

// proximityScore decays the viewer-to-candidate distance.
func proximityScore(c *Candidate, viewer *ViewerContext, cfg DecayConfig) (float64, bool) {
	if !cfg.Enabled {
		return neutral, true
	}
	if viewer == nil {
		return 0, false
	}
	return DistanceDecay(viewer.Location, c.Location, cfg)
}

// qualityScore rewards complete listings.
func qualityScore(c *Candidate, cfg QualityConfig) (float64, bool) {
	if !cfg.Enabled {
		return neutral, true
	}
	hasLocation := c.Location != nil && c.Location.Valid()

	return boostScore(cfg.Cap,
		applyIf(c.descriptionLength() >= cfg.DescriptionMin, cfg.DescriptionBoost),
		applyIf(c.HasImage, cfg.ImageBoost),
		applyIf(hasLocation, cfg.LocationBoost),
		applyIf(c.Verified, cfg.VerifiedBoost),
	), true
}

// reciprocityScore boosts listings that complete a two-way exchange with the
// viewer. No match is the unboosted base, not a penalty.
func reciprocityScore(c *Candidate, viewer *ViewerContext, cfg ExchangeConfig) (float64, bool) {
	return exchangeScore(c, viewer, cfg)
}

// exchangeScore is shared by Reciprocity and Complementary.
func exchangeScore(c *Candidate, viewer *ViewerContext, cfg ExchangeConfig) (float64, bool) {
	if !cfg.Enabled {
		return neutral, true
	}
	if viewer == nil {
		return 0, false
	}
	match := exchangeMatch(viewer.Offered, viewer.Requested, c.Offered, c.Requested)
	return boostScore(cfg.Boost, applyIf(match, cfg.Boost)), true
}
