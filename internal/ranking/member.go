package ranking

import "math"

// daysPerMonth is the mean Gregorian month length.
const daysPerMonth = 30.436875

// ScoreMember computes the CommunityRank composite for one member.
//
// With a nil viewer the viewer-dependent factors (connectivity, proximity,
// complementary) are left out, which yields a context-free standing score
// suitable for tier classification.
func ScoreMember(c *Candidate, viewer *ViewerContext, cfg *MemberConfig, sc ScoringContext) CompositeScore {
	scores := make([]FactorScore, 0, len(MemberFactors))
	add := func(f Factor, v float64, ok bool) {
		if ok {
			scores = append(scores, FactorScore{Factor: f, Value: v})
		}
	}

	v, ok := activityScore(c, cfg.Activity, sc)
	add(FactorActivity, v, ok)
	v, ok = contributionScore(c, cfg.Contribution)
	add(FactorContribution, v, ok)
	v, ok = reputationScore(c, cfg.Reputation, sc)
	add(FactorReputation, v, ok)
	v, ok = connectivityScore(c, viewer, cfg.Connectivity)
	add(FactorConnectivity, v, ok)
	v, ok = proximityScore(c, viewer, cfg.Geo)
	add(FactorProximity, v, ok)
	v, ok = exchangeScore(c, viewer, cfg.Complementary)
	add(FactorComplementary, v, ok)

	return Compose(scores, cfg.Weights)
}

// activityScore decays the member's last-active timestamp.
func activityScore(c *Candidate, cfg DecayConfig, sc ScoringContext) (float64, bool) {
	if !cfg.Enabled {
		return neutral, true
	}
	return TimeDecay(c.LastActiveAt, sc.Now, cfg)
}

// contributionScore is min(max, listings*points + hours*multiplier) / max.
func contributionScore(c *Candidate, cfg ContributionConfig) (float64, bool) {
	if !cfg.Enabled {
		return neutral, true
	}
	if cfg.MaxScore <= 0 {
		return 0, false
	}
	raw := float64(c.ListingCount)*cfg.ListingPoints + math.Max(c.HoursGiven, 0)*cfg.HoursMultiplier
	return clamp(math.Min(cfg.MaxScore, raw)/cfg.MaxScore, 0, 1), true
}

// reputationScore ramps with account age up to AccountAgeMonths, then
// applies verified and profile-complete boosts, caps and normalizes.
func reputationScore(c *Candidate, cfg ReputationConfig, sc ScoringContext) (float64, bool) {
	if !cfg.Enabled {
		return neutral, true
	}
	if c.AccountCreatedAt.IsZero() || cfg.AccountAgeMonths <= 0 {
		return 0, false
	}

	months := ElapsedDays(c.AccountCreatedAt, sc.Now) / daysPerMonth
	ramp := clamp(months/cfg.AccountAgeMonths, 0, 1)

	raw := composeBoosts(ramp,
		applyIf(c.Verified, cfg.VerifiedBoost),
		applyIf(c.ProfileComplete, cfg.ProfileBoost),
	)
	return normalizeByCap(clampToCap(raw, cfg.Cap), cfg.Cap), true
}

// connectivityScore boosts members who share groups or have traded with
// the viewer before.
func connectivityScore(c *Candidate, viewer *ViewerContext, cfg ConnectivityConfig) (float64, bool) {
	if !cfg.Enabled {
		return neutral, true
	}
	if viewer == nil {
		return 0, false
	}

	shared := countShared(viewer.Groups, c.Groups)
	interacted := c.ID != "" && containsFold(viewer.InteractedWith, c.ID)

	return boostScore(cfg.Cap,
		math.Pow(cfg.SharedGroupBoost, float64(shared)),
		applyIf(interacted, cfg.InteractionBoost),
	), true
}
