package ranking

import (
	"context"
	"fmt"
	"testing"

	"github.com/onnwee/matchrank/internal/geo"
)

func benchmarkListings(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{
			ID:          fmt.Sprintf("l-%05d", i),
			CreatedAt:   testNow.AddDate(0, 0, -(i % 90)),
			Location:    &geo.Point{Lat: 51.5 + float64(i%100)*0.01, Lng: -8.5 + float64(i%50)*0.02},
			Category:    []string{"tools", "food", "lessons"}[i%3],
			Title:       "Listing title",
			Description: "A description long enough to count towards the quality boost threshold.",
			Views:       i % 200,
			Inquiries:   i % 7,
			Saves:       i % 11,
			HasImage:    i%2 == 0,
			Offered:     []string{"bread", "repairs"},
			Requested:   []string{"tutoring"},
			Bucket:      fmt.Sprintf("county-%d", i%26),
		}
	}
	return out
}

// BenchmarkScoreListing benchmarks a single MatchRank composite.
func BenchmarkScoreListing(b *testing.B) {
	cfg := DefaultConfig()
	c := benchmarkListings(1)[0]
	viewer := &ViewerContext{
		Location:            &geo.Point{Lat: 51.9, Lng: -8.47},
		PreferredCategories: []string{"tools"},
		Query:               "title",
		Offered:             []string{"tutoring"},
	}
	sc := ScoringContext{Now: testNow}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ScoreListing(&c, viewer, &cfg.Listings, sc)
	}
}

// BenchmarkRankListings benchmarks a full ranking call over 1,000 listings.
func BenchmarkRankListings(b *testing.B) {
	cfg := DefaultConfig()
	cfg.Listings.MaxPerBucket = 5
	candidates := benchmarkListings(1000)
	viewer := &ViewerContext{Location: &geo.Point{Lat: 51.9, Lng: -8.47}}
	e := quietEngine(nil)
	opts := Options{Now: testNow, Limit: 50}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.RankListings(context.Background(), cfg, viewer, candidates, opts); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkClassify benchmarks tier classification.
func BenchmarkClassify(b *testing.B) {
	thresholds := DefaultTierThresholds()
	for i := 0; i < b.N; i++ {
		_ = Classify(float64(i%100)/100, thresholds)
	}
}
