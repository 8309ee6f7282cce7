// Package ranking scores and orders listings (MatchRank) and members
// (CommunityRank) and classifies members into reputation tiers.
//
// Scoring is a pure function of candidate attributes, viewer context,
// configuration and a caller-supplied evaluation instant. Candidates are
// never mutated and the engine never reads the wall clock for scoring.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	calibration, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default ranking config", "error", err)
//	}
//
//	// Resolve a tenant's persisted settings
//	cfg, err := ranking.ParseTenantConfig(tenantBlob, calibration)
//	if err != nil {
//		return err // wraps ranking.ErrInvalidConfig
//	}
//
//	engine := ranking.NewEngine(ranking.EngineConfig{Metrics: metrics})
//	results, err := engine.RankListings(ctx, cfg, viewer, listings, ranking.Options{
//		Now:   now,
//		Limit: 20,
//	})
//
// Factors:
//
// Every factor produces a value in [0, 1]. A disabled factor scores 1.0 so
// it stops discriminating without pulling the composite down. A factor whose
// inputs are missing (no coordinates, no timestamp) is absent rather than
// zero, and Compose renormalizes over the weight of the factors present.
//
// Boost factors (relevance, quality, reputation, connectivity, reciprocity,
// complementary) multiply a base of 1.0 by their boosts, clamp at the
// configured cap and divide by the cap.
//
// Ordering:
//
// Results are sorted by composite descending with candidate ID ascending as
// the tie-break. An optional diversity cap moves over-quota candidates of a
// bucket to the tail; it never removes them.
package ranking
