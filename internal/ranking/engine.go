package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/matchrank/internal/tracing"
)

// ErrMissingEvaluationTime is returned when Options.Now is zero. Time decay
// must be measured against a caller-supplied instant for results to be
// reproducible.
var ErrMissingEvaluationTime = errors.New("ranking evaluation time is required")

// Result is one ranked candidate.
type Result struct {
	CandidateID string         `json:"candidate_id"`
	Score       CompositeScore `json:"score"`
	Tier        Tier           `json:"tier,omitempty"` // members only
	Bucket      string         `json:"bucket,omitempty"`
	Demoted     bool           `json:"demoted,omitempty"` // moved to the tail by the diversity cap
}

// Options controls one ranking call.
type Options struct {
	// Now is the evaluation instant. Required.
	Now time.Time
	// Limit truncates the result. Zero or negative returns every candidate.
	Limit int
	// MaxPerBucket overrides the configured diversity cap. Zero uses the
	// configured value; negative disables the cap.
	MaxPerBucket int
	// Bucket derives diversity buckets. Nil uses Candidate.Bucket.
	Bucket BucketFunc
	// EngagementSamples is recent raw engagement (see RawEngagement) used to
	// derive the listing engagement normalizer.
	EngagementSamples []float64
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Workers int // scoring pool size; defaults to GOMAXPROCS
	Metrics *Metrics
	Logger  *slog.Logger
}

// Engine ranks candidates. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	workers int
	metrics *Metrics
	logger  *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		workers: workers,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// RankListings orders listings by MatchRank.
func (e *Engine) RankListings(ctx context.Context, cfg *RankingConfig, viewer *ViewerContext, candidates []Candidate, opts Options) ([]Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config: %w", ErrInvalidConfig)
	}
	lc := &cfg.Listings
	sc := ScoringContext{
		Now:                  opts.Now,
		EngagementNormalizer: EngagementNormalizer(opts.EngagementSamples, lc.Engagement),
	}

	return e.rank(ctx, KindListings, candidates, lc.Weights, lc.MaxPerBucket, opts, func(c *Candidate) Result {
		return Result{
			CandidateID: c.ID,
			Score:       ScoreListing(c, viewer, lc, sc),
		}
	})
}

// RankMembers orders members by CommunityRank and classifies each into a
// tier.
func (e *Engine) RankMembers(ctx context.Context, cfg *RankingConfig, viewer *ViewerContext, candidates []Candidate, opts Options) ([]Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config: %w", ErrInvalidConfig)
	}
	mc := &cfg.Members
	sc := ScoringContext{Now: opts.Now}

	return e.rank(ctx, KindMembers, candidates, mc.Weights, mc.MaxPerBucket, opts, func(c *Candidate) Result {
		score := ScoreMember(c, viewer, mc, sc)
		return Result{
			CandidateID: c.ID,
			Score:       score,
			Tier:        Classify(score.Value, mc.Tiers),
		}
	})
}

func (e *Engine) rank(
	ctx context.Context,
	kind string,
	candidates []Candidate,
	weights Weights,
	configuredCap int,
	opts Options,
	score func(c *Candidate) Result,
) (_ []Result, err error) {
	if opts.Now.IsZero() {
		return nil, ErrMissingEvaluationTime
	}

	ctx, endSpan := tracing.StartSpan(ctx, "rank_"+kind)
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx,
		attribute.String("ranking.type", kind),
		attribute.Int("ranking.candidates", len(candidates)),
	)

	start := time.Now()

	if weights.Unbalanced() {
		e.metrics.incUnbalanced(kind)
		e.logger.Warn("ranking weights do not sum to 1.0",
			"type", kind,
			"sum", weights.Sum())
	}

	if len(candidates) == 0 {
		e.metrics.observeRequest(kind, time.Since(start).Seconds(), 0)
		return []Result{}, nil
	}

	bucket := opts.Bucket
	if bucket == nil {
		bucket = CandidateBucket
	}

	results := make([]Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := &candidates[i]
			r := score(c)
			r.Bucket = bucket(c)
			results[i] = r
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		e.metrics.incTimeout(kind)
		e.logger.Debug("ranking abandoned",
			"type", kind,
			"candidates", len(candidates),
			"error", err)
		return nil, err
	}

	sortResults(results)

	maxPerBucket := configuredCap
	if opts.MaxPerBucket != 0 {
		maxPerBucket = opts.MaxPerBucket
	}
	results, demoted := applyDiversityCap(results, maxPerBucket)
	e.metrics.addDemoted(kind, demoted)

	if opts.Limit > 0 && opts.Limit < len(results) {
		results = results[:opts.Limit]
	}

	e.metrics.observeRequest(kind, time.Since(start).Seconds(), len(candidates))
	e.logger.Debug("ranking complete",
		"type", kind,
		"candidates", len(candidates),
		"returned", len(results),
		"demoted", demoted,
		"duration", time.Since(start))

	return results, nil
}
