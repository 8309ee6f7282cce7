package ranking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/onnwee/matchrank/internal/geo"
)

func quietEngine(metrics *Metrics) *Engine {
	return NewEngine(EngineConfig{
		Workers: 4,
		Metrics: metrics,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

// agedListings returns n listings created progressively longer ago, so each
// has a distinct freshness and the input order is also the score order.
func agedListings(n int, bucket string) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{
			ID:        fmt.Sprintf("%s-%02d", bucket, i),
			CreatedAt: testNow.AddDate(0, 0, -(10 + 5*i)),
			Bucket:    bucket,
		}
	}
	return out
}

func resultIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.CandidateID
	}
	return ids
}

func TestRankListings_SortsDescendingWithIDTieBreak(t *testing.T) {
	candidates := []Candidate{
		{ID: "c", CreatedAt: testNow},
		{ID: "a", CreatedAt: testNow},
		{ID: "old", CreatedAt: testNow.AddDate(0, -6, 0)},
		{ID: "b", CreatedAt: testNow},
	}

	results, err := quietEngine(nil).RankListings(context.Background(), DefaultConfig(), &ViewerContext{}, candidates, Options{Now: testNow})
	if err != nil {
		t.Fatalf("RankListings() error = %v", err)
	}

	want := []string{"a", "b", "c", "old"}
	if got := resultIDs(results); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestSortResults_FullTiesKeepInputOrder(t *testing.T) {
	score := CompositeScore{Value: 0.5}
	results := []Result{
		{CandidateID: "dup", Score: score, Bucket: "first"},
		{CandidateID: "low", Score: CompositeScore{Value: 0.1}},
		{CandidateID: "dup", Score: score, Bucket: "second"},
		{CandidateID: "dup", Score: score, Bucket: "third"},
	}

	sortResults(results)

	var buckets []string
	for _, r := range results[:3] {
		buckets = append(buckets, r.Bucket)
	}
	if want := []string{"first", "second", "third"}; !slices.Equal(buckets, want) {
		t.Errorf("tied buckets = %v, want %v", buckets, want)
	}
	if results[3].CandidateID != "low" {
		t.Errorf("last = %s, want low", results[3].CandidateID)
	}
}

func TestRankListings_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	viewer := &ViewerContext{Location: &geo.Point{Lat: 51.9, Lng: -8.47}}

	candidates := make([]Candidate, 50)
	for i := range candidates {
		candidates[i] = Candidate{
			ID:        fmt.Sprintf("l-%03d", i),
			CreatedAt: testNow.AddDate(0, 0, -(i % 7) * 9),
			Location:  &geo.Point{Lat: 51.9 + float64(i%5)*0.2, Lng: -8.47},
			Views:     i % 3 * 10,
		}
	}

	first, err := quietEngine(nil).RankListings(context.Background(), cfg, viewer, candidates, Options{Now: testNow})
	if err != nil {
		t.Fatal(err)
	}

	shuffled := slices.Clone(candidates)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second, err := quietEngine(nil).RankListings(context.Background(), cfg, viewer, shuffled, Options{Now: testNow})
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(resultIDs(first), resultIDs(second)) {
		t.Errorf("ranking depends on input order:\n%v\n%v", resultIDs(first), resultIDs(second))
	}
	for i := range first {
		if first[i].Score.Value != second[i].Score.Value {
			t.Errorf("score for %s differs: %v vs %v", first[i].CandidateID, first[i].Score.Value, second[i].Score.Value)
		}
	}
}

func TestRankListings_Monotonic(t *testing.T) {
	cfg := DefaultConfig()
	viewer := &ViewerContext{Location: &geo.Point{Lat: 51.8985, Lng: -8.4756}}
	base := Candidate{ID: "base", CreatedAt: testNow.AddDate(0, 0, -20), Views: 10}

	tests := []struct {
		name   string
		better func(c *Candidate)
	}{
		{"closer", func(c *Candidate) { c.Location = &geo.Point{Lat: 51.90, Lng: -8.47} }},
		{"newer", func(c *Candidate) { c.CreatedAt = testNow.AddDate(0, 0, -2) }},
		{"more engagement", func(c *Candidate) { c.Views = 60 }},
		{"verified", func(c *Candidate) { c.Verified = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worse := base
			worse.Location = &geo.Point{Lat: 53.35, Lng: -6.26}
			better := worse
			better.ID = "better"
			tt.better(&better)

			sc := ScoringContext{Now: testNow}
			w := ScoreListing(&worse, viewer, &cfg.Listings, sc)
			b := ScoreListing(&better, viewer, &cfg.Listings, sc)
			if b.Value < w.Value {
				t.Errorf("improved candidate scored lower: %v < %v", b.Value, w.Value)
			}
		})
	}
}

func TestRankListings_DiversityCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listings.MaxPerBucket = 2

	candidates := append(agedListings(10, "cork"), Candidate{
		ID:        "dublin-00",
		CreatedAt: testNow.AddDate(0, -8, 0),
		Bucket:    "dublin",
	})

	results, err := quietEngine(nil).RankListings(context.Background(), cfg, &ViewerContext{}, candidates, Options{Now: testNow})
	if err != nil {
		t.Fatalf("RankListings() error = %v", err)
	}

	if len(results) != len(candidates) {
		t.Fatalf("got %d results, want %d (nothing dropped)", len(results), len(candidates))
	}

	want := []string{"cork-00", "cork-01", "dublin-00"}
	for i := 2; i < 10; i++ {
		want = append(want, fmt.Sprintf("cork-%02d", i))
	}
	if got := resultIDs(results); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	for i, r := range results {
		if r.Demoted != (i >= 3) {
			t.Errorf("%s demoted = %v", r.CandidateID, r.Demoted)
		}
	}
}

func TestRankListings_DiversityOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listings.MaxPerBucket = 2
	candidates := agedListings(5, "cork")

	results, err := quietEngine(nil).RankListings(context.Background(), cfg, &ViewerContext{}, candidates, Options{Now: testNow, MaxPerBucket: -1})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Demoted {
			t.Errorf("%s demoted with cap disabled", r.CandidateID)
		}
	}

	// Geohash buckets: all five listings share one cell.
	for i := range candidates {
		candidates[i].Bucket = ""
		candidates[i].Location = &geo.Point{Lat: 51.90, Lng: -8.47}
	}
	results, err = quietEngine(nil).RankListings(context.Background(), cfg, &ViewerContext{}, candidates, Options{
		Now:    testNow,
		Bucket: GeohashBucket(geo.DefaultPrecision),
	})
	if err != nil {
		t.Fatal(err)
	}
	demoted := 0
	for _, r := range results {
		if r.Bucket != "gc1z" {
			t.Errorf("%s bucket = %q, want gc1z", r.CandidateID, r.Bucket)
		}
		if r.Demoted {
			demoted++
		}
	}
	if demoted != 3 {
		t.Errorf("demoted = %d, want 3", demoted)
	}
}

func TestApplyDiversityCap_EmptyBucketNeverCapped(t *testing.T) {
	results := []Result{
		{CandidateID: "a"}, {CandidateID: "b"}, {CandidateID: "c"},
	}
	got, demoted := applyDiversityCap(results, 1)
	if demoted != 0 || !slices.Equal(resultIDs(got), []string{"a", "b", "c"}) {
		t.Errorf("got %v demoted=%d", resultIDs(got), demoted)
	}
}

func TestRankListings_Limit(t *testing.T) {
	results, err := quietEngine(nil).RankListings(context.Background(), DefaultConfig(), nil, agedListings(8, "x"), Options{Now: testNow, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got := resultIDs(results); !slices.Equal(got, []string{"x-00", "x-01", "x-02"}) {
		t.Errorf("limited = %v", got)
	}
}

func TestRankListings_EmptyInput(t *testing.T) {
	results, err := quietEngine(nil).RankListings(context.Background(), DefaultConfig(), nil, nil, Options{Now: testNow})
	if err != nil {
		t.Fatalf("RankListings(empty) error = %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %#v, want empty non-nil slice", results)
	}
}

func TestRankListings_UnscorableCandidateIsKept(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listings.Weights = Weights{FactorFreshness: 0.5, FactorProximity: 0.5}

	candidates := []Candidate{{ID: "blank"}, {ID: "fresh", CreatedAt: testNow}}
	results, err := quietEngine(nil).RankListings(context.Background(), cfg, &ViewerContext{}, candidates, Options{Now: testNow})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[1].CandidateID != "blank" || results[1].Score.Value != 0 {
		t.Errorf("results = %+v", results)
	}
}

func TestRank_Errors(t *testing.T) {
	e := quietEngine(nil)

	if _, err := e.RankListings(context.Background(), DefaultConfig(), nil, agedListings(2, "x"), Options{}); !errors.Is(err, ErrMissingEvaluationTime) {
		t.Errorf("missing Now error = %v", err)
	}
	if _, err := e.RankMembers(context.Background(), nil, nil, nil, Options{Now: testNow}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil config error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := e.RankListings(ctx, DefaultConfig(), nil, agedListings(100, "x"), Options{Now: testNow})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error = %v", err)
	}
	if results != nil {
		t.Errorf("cancelled call returned %d results", len(results))
	}

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	if _, err := e.RankMembers(ctx, DefaultConfig(), nil, agedListings(100, "x"), Options{Now: testNow}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("deadline error = %v", err)
	}
}

func TestRankMembers_ClassifiesTiers(t *testing.T) {
	cfg := DefaultConfig()
	members := []Candidate{
		{
			ID:               "veteran",
			LastActiveAt:     testNow,
			AccountCreatedAt: testNow.AddDate(-3, 0, 0),
			Verified:         true,
			ProfileComplete:  true,
			ListingCount:     25,
		},
		{
			ID:               "newcomer",
			LastActiveAt:     testNow.AddDate(-1, 0, 0),
			AccountCreatedAt: testNow.AddDate(0, 0, -5),
		},
	}

	results, err := quietEngine(nil).RankMembers(context.Background(), cfg, nil, members, Options{Now: testNow})
	if err != nil {
		t.Fatalf("RankMembers() error = %v", err)
	}
	if results[0].CandidateID != "veteran" || results[0].Tier != TierLegendary {
		t.Errorf("first = %s/%s, want veteran/Legendary", results[0].CandidateID, results[0].Tier)
	}
	if results[1].Tier != Classify(results[1].Score.Value, cfg.Members.Tiers) {
		t.Errorf("newcomer tier = %s for score %v", results[1].Tier, results[1].Score.Value)
	}
	if results[1].Tier.Rank() >= TierIntermediate.Rank() {
		t.Errorf("newcomer tier too high: %s (%v)", results[1].Tier, results[1].Score.Value)
	}
}

func TestRankMembers_DoesNotMutateCandidates(t *testing.T) {
	members := []Candidate{{ID: "m-1", Groups: []string{"Makers"}, LastActiveAt: testNow}}
	before := fmt.Sprintf("%+v", members)

	viewer := &ViewerContext{Groups: []string{"makers"}}
	if _, err := quietEngine(nil).RankMembers(context.Background(), DefaultConfig(), viewer, members, Options{Now: testNow}); err != nil {
		t.Fatal(err)
	}
	if after := fmt.Sprintf("%+v", members); after != before {
		t.Errorf("candidates mutated:\n%s\n%s", before, after)
	}
}
