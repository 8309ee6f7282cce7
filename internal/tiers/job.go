package tiers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/matchrank/internal/jobs"
	"github.com/onnwee/matchrank/internal/ranking"
)

const jobType = jobs.JobTypeTierRecompute

// ErrMemberNotFound is returned by a MemberSource for unknown members.
var ErrMemberNotFound = errors.New("member not found")

// MemberSource provides the raw attributes of a member.
type MemberSource interface {
	// Member returns the member's candidate record.
	Member(ctx context.Context, key MemberKey) (*ranking.Candidate, error)
}

// MemberEvictor is implemented by member sources that only hold a record
// until its tier has been computed.
type MemberEvictor interface {
	// EvictBefore drops the member if it was stored at or before cutoff.
	EvictBefore(key MemberKey, cutoff time.Time)
}

// ConfigLoader resolves a tenant's ranking configuration.
type ConfigLoader interface {
	RankingConfig(ctx context.Context, tenantID string) (*ranking.RankingConfig, error)
}

// ConfigLoaderFunc adapts a function to ConfigLoader.
type ConfigLoaderFunc func(ctx context.Context, tenantID string) (*ranking.RankingConfig, error)

// RankingConfig calls f.
func (f ConfigLoaderFunc) RankingConfig(ctx context.Context, tenantID string) (*ranking.RankingConfig, error) {
	return f(ctx, tenantID)
}

// Store persists computed tier snapshots.
type Store interface {
	// SaveTier stores a tier snapshot.
	SaveTier(ctx context.Context, t MemberTier) error
	// GetTier retrieves a snapshot. Returns nil, nil when absent.
	GetTier(ctx context.Context, key MemberKey) (*MemberTier, error)
}

// RecomputeJobConfig configures the tier recompute job.
type RecomputeJobConfig struct {
	// Interval is the duration between recompute cycles.
	Interval time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for performance tracking.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking.
	JobMetrics jobs.Reporter
	// Timeout for each recompute cycle.
	Timeout time.Duration
	// Now supplies the evaluation instant for each cycle. Defaults to time.Now.
	Now func() time.Time
}

// DefaultRecomputeInterval is the default interval between recompute cycles.
const DefaultRecomputeInterval = 30 * time.Second

// DefaultRecomputeTimeout is the default timeout for a single recompute cycle.
const DefaultRecomputeTimeout = 30 * time.Second

// RecomputeJob periodically reclassifies dirty members.
type RecomputeJob struct {
	config       RecomputeJobConfig
	dirtyTracker *DirtyTracker
	members      MemberSource
	configs      ConfigLoader
	store        Store

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecomputeJob creates a new tier recompute job.
func NewRecomputeJob(
	config RecomputeJobConfig,
	dirtyTracker *DirtyTracker,
	members MemberSource,
	configs ConfigLoader,
	store Store,
) *RecomputeJob {
	if config.Interval == 0 {
		config.Interval = DefaultRecomputeInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultRecomputeTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RecomputeJob{
		config:       config,
		dirtyTracker: dirtyTracker,
		members:      members,
		configs:      configs,
		store:        store,
	}
}

// Start begins the periodic recompute job.
// Returns immediately; the job runs in a background goroutine.
func (j *RecomputeJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the recompute job to stop and waits for it to finish.
func (j *RecomputeJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *RecomputeJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *RecomputeJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("tier recompute job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("tier recompute job stopping due to stop signal")
			return
		case <-ticker.C:
			j.recomputeDirtyMembers(ctx)
		}
	}
}

// cycleStats accumulates one recompute cycle's outcome.
type cycleStats struct {
	total, succeeded, changed int
}

// recomputeDirtyMembers reclassifies every dirty member. Each tenant's
// configuration is loaded once per cycle.
func (j *RecomputeJob) recomputeDirtyMembers(parentCtx context.Context) {
	dirty := j.dirtyTracker.DirtyMembers()
	if len(dirty) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	run := jobs.StartRun(j.config.JobMetrics, jobType)
	cycleStart := time.Now()
	now := j.config.Now()
	stats := cycleStats{total: len(dirty)}
	configs := make(map[string]*ranking.RankingConfig)

	j.config.Logger.Info("recomputing member tiers",
		"dirty_count", stats.total)

	for i, key := range dirty {
		if err := ctx.Err(); err != nil {
			j.config.Logger.Error("tier recompute timeout exceeded",
				"processed", i,
				"total", stats.total,
				"timeout", j.config.Timeout)
			j.recordError(run, jobs.ErrorTypeTimeout)
			j.finishCycle(run, stats, true)
			return
		}

		cfg, ok := configs[key.TenantID]
		if !ok {
			var err error
			cfg, err = j.configs.RankingConfig(ctx, key.TenantID)
			if err != nil {
				j.config.Logger.Error("failed to load ranking config",
					"tenant_id", key.TenantID,
					"error", err)
				j.recordError(run, jobs.ErrorTypeConfig)
				continue
			}
			configs[key.TenantID] = cfg
		}

		changed, err := j.recomputeMember(ctx, key, cfg, now)
		if err != nil {
			j.config.Logger.Error("failed to recompute member tier",
				"tenant_id", key.TenantID,
				"member_id", key.MemberID,
				"error", err)
			j.recordError(run, jobs.ErrorTypeRecompute)
			continue
		}

		if j.dirtyTracker.ClearDirtyBefore(key, cycleStart) {
			if evictor, ok := j.members.(MemberEvictor); ok {
				evictor.EvictBefore(key, cycleStart)
			}
		}
		stats.succeeded++
		if changed {
			stats.changed++
		}

		if (i+1)%10 == 0 {
			j.config.Logger.Debug("recompute progress",
				"processed", i+1,
				"total", stats.total)
		}
	}

	j.finishCycle(run, stats, false)
}

// recomputeMember scores one member without a viewer, classifies it and
// saves the snapshot. Reports whether the tier differs from the previous
// snapshot.
func (j *RecomputeJob) recomputeMember(ctx context.Context, key MemberKey, cfg *ranking.RankingConfig, now time.Time) (bool, error) {
	member, err := j.members.Member(ctx, key)
	if err != nil {
		return false, err
	}

	previous, err := j.store.GetTier(ctx, key)
	if err != nil {
		return false, err
	}

	score := ranking.ScoreMember(member, nil, &cfg.Members, ranking.ScoringContext{Now: now})
	snapshot := MemberTier{
		TenantID:   key.TenantID,
		MemberID:   key.MemberID,
		Score:      score.Value,
		Tier:       ranking.Classify(score.Value, cfg.Members.Tiers),
		Factors:    score.Factors,
		ComputedAt: now,
	}

	if err := j.store.SaveTier(ctx, snapshot); err != nil {
		return false, err
	}

	changed := previous == nil || previous.Tier != snapshot.Tier
	if changed && previous != nil {
		j.config.Logger.Info("member tier changed",
			"tenant_id", key.TenantID,
			"member_id", key.MemberID,
			"from", previous.Tier,
			"to", snapshot.Tier)
	}
	j.config.Logger.Debug("member tier recomputed",
		"tenant_id", key.TenantID,
		"member_id", key.MemberID,
		"score", snapshot.Score,
		"tier", snapshot.Tier)

	return changed, nil
}

func (j *RecomputeJob) recordError(run *jobs.Run, errorType string) {
	if j.config.Metrics != nil {
		j.config.Metrics.IncRecomputeErrors()
	}
	run.Error(errorType)
}

func (j *RecomputeJob) finishCycle(run *jobs.Run, stats cycleStats, timedOut bool) {
	outcome := jobs.OutcomeSuccess
	switch {
	case timedOut:
		outcome = jobs.OutcomeTimeout
	case stats.succeeded < stats.total:
		outcome = jobs.OutcomePartial
	}
	duration := run.Finish(outcome, stats.succeeded).Seconds()

	if j.config.Metrics != nil {
		j.config.Metrics.ObserveRecomputeDuration(duration)
		if !timedOut {
			j.config.Metrics.IncRecomputeTotal()
			j.config.Metrics.SetLastRecomputeTimestamp(float64(time.Now().Unix()))
			j.config.Metrics.SetLastRecomputeMemberCount(float64(stats.succeeded))
		}
		j.config.Metrics.AddTierChanges(float64(stats.changed))
	}

	if timedOut {
		return
	}
	j.config.Logger.Info("tier recompute completed",
		"outcome", outcome,
		"duration_seconds", duration,
		"members_processed", stats.succeeded,
		"members_failed", stats.total-stats.succeeded,
		"tier_changes", stats.changed)
}

// RecomputeNow immediately recomputes all dirty members without waiting for the ticker.
// This is useful for testing or forcing immediate updates.
func (j *RecomputeJob) RecomputeNow(ctx context.Context) {
	j.recomputeDirtyMembers(ctx)
}
