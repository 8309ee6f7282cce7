package tiers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/matchrank/internal/geo"
	"github.com/onnwee/matchrank/internal/jobs"
	"github.com/onnwee/matchrank/internal/ranking"
)

var jobNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func defaultConfigs() ConfigLoader {
	return ConfigLoaderFunc(func(context.Context, string) (*ranking.RankingConfig, error) {
		return ranking.DefaultConfig(), nil
	})
}

func veteran(id string) ranking.Candidate {
	return ranking.Candidate{
		ID:               id,
		LastActiveAt:     jobNow,
		AccountCreatedAt: jobNow.AddDate(-3, 0, 0),
		Verified:         true,
		ProfileComplete:  true,
		ListingCount:     25,
	}
}

func newcomer(id string) ranking.Candidate {
	return ranking.Candidate{
		ID:               id,
		LastActiveAt:     jobNow.AddDate(-1, 0, 0),
		AccountCreatedAt: jobNow.AddDate(0, 0, -5),
	}
}

type fakeJobMetrics struct {
	mu     sync.Mutex
	runs   map[jobs.Outcome]int
	items  int
	errors map[string]int
}

func newFakeJobMetrics() *fakeJobMetrics {
	return &fakeJobMetrics{runs: map[jobs.Outcome]int{}, errors: map[string]int{}}
}

func (f *fakeJobMetrics) ObserveRun(_ string, outcome jobs.Outcome, _ time.Duration, items int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[outcome]++
	f.items += items
}

func (f *fakeJobMetrics) IncJobErrors(jobType, errorType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[jobType+"/"+errorType]++
}

func newTestJob(members MemberSource, configs ConfigLoader, store Store, tracker *DirtyTracker, cfg RecomputeJobConfig) *RecomputeJob {
	if cfg.Interval == 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	cfg.Logger = quietLogger()
	cfg.Now = func() time.Time { return jobNow }
	return NewRecomputeJob(cfg, tracker, members, configs, store)
}

func TestRecomputeJob_StartStop(t *testing.T) {
	job := newTestJob(NewInMemoryMemberSource(), defaultConfigs(), NewInMemoryStore(), NewDirtyTracker(), RecomputeJobConfig{})

	if job.IsRunning() {
		t.Error("job should not be running before Start")
	}

	ctx := context.Background()
	if err := job.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !job.IsRunning() {
		t.Error("job should be running after Start")
	}

	// Starting again should be safe (idempotent)
	if err := job.Start(ctx); err != nil {
		t.Fatalf("Start() second call error = %v", err)
	}

	job.Stop()
	if job.IsRunning() {
		t.Error("job should not be running after Stop")
	}

	// Stopping again should be safe
	job.Stop()
}

func TestRecomputeJob_RecomputesOnlyDirtyMembers(t *testing.T) {
	members := NewInMemoryMemberSource()
	members.Put("t1", veteran("m-1"))
	members.Put("t1", newcomer("m-2"))
	store := NewInMemoryStore()
	tracker := NewDirtyTracker()

	job := newTestJob(members, defaultConfigs(), store, tracker, RecomputeJobConfig{})

	key := MemberKey{TenantID: "t1", MemberID: "m-1"}
	tracker.MarkDirty(key)
	job.RecomputeNow(context.Background())

	got, err := store.GetTier(context.Background(), key)
	if err != nil || got == nil {
		t.Fatalf("GetTier(m-1) = (%v, %v)", got, err)
	}
	if got.Tier != ranking.TierLegendary {
		t.Errorf("m-1 tier = %s (score %v), want Legendary", got.Tier, got.Score)
	}
	if !got.ComputedAt.Equal(jobNow) {
		t.Errorf("ComputedAt = %v, want %v", got.ComputedAt, jobNow)
	}
	if len(got.Factors) != 3 {
		t.Errorf("factors = %v, want activity/contribution/reputation only", got.Factors)
	}

	if other, _ := store.GetTier(context.Background(), MemberKey{TenantID: "t1", MemberID: "m-2"}); other != nil {
		t.Error("expected no snapshot for m-2 (not dirty)")
	}
	if tracker.IsDirty(key) {
		t.Error("m-1 should not be dirty after recompute")
	}
}

func TestRecomputeJob_UsesTenantConfig(t *testing.T) {
	members := NewInMemoryMemberSource()
	members.Put("strict", veteran("m-1"))
	members.Put("lenient", newcomer("m-1"))
	store := NewInMemoryStore()
	tracker := NewDirtyTracker()

	var loads sync.Map
	configs := ConfigLoaderFunc(func(_ context.Context, tenantID string) (*ranking.RankingConfig, error) {
		n, _ := loads.LoadOrStore(tenantID, new(int))
		*n.(*int)++
		cfg := ranking.DefaultConfig()
		if tenantID == "lenient" {
			cfg.Members.Tiers = []ranking.TierThreshold{
				{Tier: ranking.TierNovice, MinScore: 0},
				{Tier: ranking.TierElite, MinScore: 0.01},
			}
		}
		return cfg, nil
	})

	job := newTestJob(members, configs, store, tracker, RecomputeJobConfig{})
	tracker.MarkDirty(MemberKey{TenantID: "lenient", MemberID: "m-1"})
	tracker.MarkDirty(MemberKey{TenantID: "strict", MemberID: "m-1"})
	job.RecomputeNow(context.Background())

	got, _ := store.GetTier(context.Background(), MemberKey{TenantID: "lenient", MemberID: "m-1"})
	if got == nil || got.Tier != ranking.TierElite {
		t.Errorf("lenient tier = %+v, want Elite", got)
	}
	got, _ = store.GetTier(context.Background(), MemberKey{TenantID: "strict", MemberID: "m-1"})
	if got == nil || got.Tier != ranking.TierLegendary {
		t.Errorf("strict tier = %+v, want Legendary", got)
	}

	n, _ := loads.Load("strict")
	if *n.(*int) != 1 {
		t.Errorf("strict config loaded %d times, want 1", *n.(*int))
	}
}

func TestRecomputeJob_ReportsTierChanges(t *testing.T) {
	members := NewInMemoryMemberSource()
	members.Put("t1", veteran("m-1"))
	store := NewInMemoryStore()
	tracker := NewDirtyTracker()
	metrics := NewMetrics()

	job := newTestJob(members, defaultConfigs(), store, tracker, RecomputeJobConfig{Metrics: metrics})
	key := MemberKey{TenantID: "t1", MemberID: "m-1"}

	tracker.MarkDirty(key)
	job.RecomputeNow(context.Background())

	// Same data again: no change.
	members.Put("t1", veteran("m-1"))
	tracker.MarkDirty(key)
	job.RecomputeNow(context.Background())
	if got := counterValue(t, metrics.tierChanges); got != 1 {
		t.Errorf("tier changes after steady recompute = %v, want 1 (first snapshot)", got)
	}

	// The member goes quiet and sheds listings.
	faded := newcomer("m-1")
	members.Put("t1", faded)
	tracker.MarkDirty(key)
	job.RecomputeNow(context.Background())

	got, _ := store.GetTier(context.Background(), key)
	if got.Tier == ranking.TierLegendary {
		t.Errorf("tier did not drop: %s (%v)", got.Tier, got.Score)
	}
	if got := counterValue(t, metrics.tierChanges); got != 2 {
		t.Errorf("tier changes = %v, want 2", got)
	}
	if got := counterValue(t, metrics.recomputeTotal); got != 3 {
		t.Errorf("recompute total = %v, want 3", got)
	}
}

func TestRecomputeJob_EvictsRecomputedMembers(t *testing.T) {
	members := NewInMemoryMemberSource()
	members.Put("t1", veteran("m-1"))
	members.Put("t1", veteran("m-2"))
	members.Put("t1", veteran("m-3"))
	store := NewInMemoryStore()
	tracker := NewDirtyTracker()

	failing := &failingStore{Store: store, fail: MemberKey{TenantID: "t1", MemberID: "m-3"}}
	job := newTestJob(members, defaultConfigs(), failing, tracker, RecomputeJobConfig{})

	done := MemberKey{TenantID: "t1", MemberID: "m-1"}
	failed := MemberKey{TenantID: "t1", MemberID: "m-3"}
	tracker.MarkDirty(done)
	tracker.MarkDirty(failed)
	job.RecomputeNow(context.Background())

	if _, err := members.Member(context.Background(), done); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("recomputed member still held: err = %v", err)
	}
	if _, err := members.Member(context.Background(), failed); err != nil {
		t.Errorf("member whose recompute failed was evicted: %v", err)
	}
	if members.Len() != 2 {
		t.Errorf("held members = %d, want 2 (never-dirty m-2 and failed m-3)", members.Len())
	}
	if tier, _ := store.GetTier(context.Background(), done); tier == nil {
		t.Error("snapshot missing for evicted member")
	}
}

// failingStore rejects snapshots for one member.
type failingStore struct {
	Store
	fail MemberKey
}

func (s *failingStore) SaveTier(ctx context.Context, t MemberTier) error {
	if t.Key() == s.fail {
		return errors.New("store unavailable")
	}
	return s.Store.SaveTier(ctx, t)
}

func TestRecomputeJob_SnapshotIgnoresViewerFactors(t *testing.T) {
	member := veteran("m-1")
	member.Groups = []string{"makers"}
	member.Location = &geo.Point{Lat: 51.9, Lng: -8.47}

	members := NewInMemoryMemberSource()
	members.Put("t1", member)
	store := NewInMemoryStore()
	tracker := NewDirtyTracker()
	job := newTestJob(members, defaultConfigs(), store, tracker, RecomputeJobConfig{})

	key := MemberKey{TenantID: "t1", MemberID: "m-1"}
	tracker.MarkDirty(key)
	job.RecomputeNow(context.Background())

	snapshot, err := store.GetTier(context.Background(), key)
	if err != nil || snapshot == nil {
		t.Fatalf("GetTier() = %v, %v", snapshot, err)
	}
	for _, f := range snapshot.Factors {
		switch f.Factor {
		case ranking.FactorConnectivity, ranking.FactorProximity, ranking.FactorComplementary:
			t.Errorf("snapshot includes viewer-dependent factor %s", f.Factor)
		}
	}
}

func TestRecomputeJob_FailuresStayDirty(t *testing.T) {
	members := NewInMemoryMemberSource()
	members.Put("ok", veteran("m-1"))
	members.Put("broken", veteran("m-1"))
	store := NewInMemoryStore()
	tracker := NewDirtyTracker()
	jobMetrics := newFakeJobMetrics()

	configs := ConfigLoaderFunc(func(_ context.Context, tenantID string) (*ranking.RankingConfig, error) {
		if tenantID == "broken" {
			return nil, errors.New("tenant settings unavailable")
		}
		return ranking.DefaultConfig(), nil
	})

	job := newTestJob(members, configs, store, tracker, RecomputeJobConfig{JobMetrics: jobMetrics})

	broken := MemberKey{TenantID: "broken", MemberID: "m-1"}
	missing := MemberKey{TenantID: "ok", MemberID: "ghost"}
	good := MemberKey{TenantID: "ok", MemberID: "m-1"}
	tracker.MarkDirty(broken)
	tracker.MarkDirty(missing)
	tracker.MarkDirty(good)

	job.RecomputeNow(context.Background())

	if !tracker.IsDirty(broken) || !tracker.IsDirty(missing) {
		t.Error("failed members should stay dirty for the next cycle")
	}
	if tracker.IsDirty(good) {
		t.Error("successful member should be clean")
	}
	if store.Len() != 1 {
		t.Errorf("stored %d snapshots, want 1", store.Len())
	}

	jobMetrics.mu.Lock()
	defer jobMetrics.mu.Unlock()
	if jobMetrics.errors[jobType+"/config_error"] != 1 || jobMetrics.errors[jobType+"/recompute_error"] != 1 {
		t.Errorf("job errors = %v", jobMetrics.errors)
	}
	if jobMetrics.runs[jobs.OutcomePartial] != 1 || jobMetrics.items != 1 {
		t.Errorf("job runs = %v items = %d", jobMetrics.runs, jobMetrics.items)
	}
}

func TestRecomputeJob_Timeout(t *testing.T) {
	members := NewInMemoryMemberSource()
	for _, id := range []string{"m-1", "m-2", "m-3", "m-4"} {
		members.Put("t1", veteran(id))
	}
	store := NewInMemoryStore()
	tracker := NewDirtyTracker()
	jobMetrics := newFakeJobMetrics()

	job := newTestJob(slowMemberSource{src: members, delay: 30 * time.Millisecond}, defaultConfigs(), store, tracker, RecomputeJobConfig{
		Timeout:    40 * time.Millisecond,
		JobMetrics: jobMetrics,
	})
	for _, id := range []string{"m-1", "m-2", "m-3", "m-4"} {
		tracker.MarkDirty(MemberKey{TenantID: "t1", MemberID: id})
	}

	job.RecomputeNow(context.Background())

	if tracker.DirtyCount() == 0 {
		t.Error("expected some members to remain dirty after timeout")
	}

	jobMetrics.mu.Lock()
	defer jobMetrics.mu.Unlock()
	if jobMetrics.errors[jobType+"/timeout"] != 1 {
		t.Errorf("job errors = %v, want one timeout", jobMetrics.errors)
	}
	if jobMetrics.runs[jobs.OutcomeTimeout] != 1 || len(jobMetrics.runs) != 1 {
		t.Errorf("job runs = %v, want one timeout", jobMetrics.runs)
	}
}

// remarkingSource marks the member dirty again while it is being read,
// as a concurrent profile update would.
type remarkingSource struct {
	MemberSource
	tracker *DirtyTracker
}

func (s remarkingSource) Member(ctx context.Context, key MemberKey) (*ranking.Candidate, error) {
	s.tracker.MarkDirty(key)
	return s.MemberSource.Member(ctx, key)
}

func TestRecomputeJob_RemarkedDuringCycleStaysDirty(t *testing.T) {
	members := NewInMemoryMemberSource()
	members.Put("t1", veteran("m-1"))
	tracker := NewDirtyTracker()
	tracker.now = func() time.Time { return time.Now().Add(time.Second) }

	job := newTestJob(remarkingSource{MemberSource: members, tracker: tracker}, defaultConfigs(), NewInMemoryStore(), tracker, RecomputeJobConfig{})

	key := MemberKey{TenantID: "t1", MemberID: "m-1"}
	tracker.dirtyFlags[key] = time.Now().Add(-time.Minute)
	job.RecomputeNow(context.Background())

	if !tracker.IsDirty(key) {
		t.Error("member updated mid-cycle should stay dirty")
	}
}

func TestRecomputeJob_PeriodicExecution(t *testing.T) {
	members := NewInMemoryMemberSource()
	members.Put("t1", veteran("m-1"))
	store := NewInMemoryStore()
	tracker := NewDirtyTracker()

	job := newTestJob(members, defaultConfigs(), store, tracker, RecomputeJobConfig{
		Interval: 50 * time.Millisecond, // Short interval for testing
	})

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer job.Stop()

	key := MemberKey{TenantID: "t1", MemberID: "m-1"}
	tracker.MarkDirty(key)

	deadline := time.Now().Add(2 * time.Second)
	for tracker.IsDirty(key) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	got, err := store.GetTier(context.Background(), key)
	if err != nil {
		t.Fatalf("GetTier error = %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot after periodic tick")
	}
}

func TestRecomputeJob_ContextCancellation(t *testing.T) {
	job := newTestJob(NewInMemoryMemberSource(), defaultConfigs(), NewInMemoryStore(), NewDirtyTracker(), RecomputeJobConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := job.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cancel()
	time.Sleep(50 * time.Millisecond)

	// Job should have stopped - wait for doneCh via Stop()
	job.Stop()
	if job.IsRunning() {
		t.Error("job should have stopped after context cancellation")
	}
}

func TestRecomputeJob_EmptyDirtyMembers(t *testing.T) {
	store := NewInMemoryStore()
	job := newTestJob(NewInMemoryMemberSource(), defaultConfigs(), store, NewDirtyTracker(), RecomputeJobConfig{})

	job.RecomputeNow(context.Background())

	if store.Len() != 0 {
		t.Errorf("expected no snapshots, got %d", store.Len())
	}
}

// slowMemberSource delays every read so cycles can hit their timeout.
type slowMemberSource struct {
	src   MemberSource
	delay time.Duration
}

func (s slowMemberSource) Member(ctx context.Context, key MemberKey) (*ranking.Candidate, error) {
	time.Sleep(s.delay)
	return s.src.Member(ctx, key)
}
