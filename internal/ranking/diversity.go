package ranking

import (
	"cmp"
	"slices"

	"github.com/onnwee/matchrank/internal/geo"
)

// BucketFunc derives a diversity bucket for a candidate. An empty bucket
// is never capped.
type BucketFunc func(c *Candidate) string

// CandidateBucket uses the caller-supplied Candidate.Bucket (e.g. county).
func CandidateBucket(c *Candidate) string {
	return c.Bucket
}

// GeohashBucket buckets by geohash cell when the caller has no bucket of its
// own. Precision 4 cells are roughly 39km x 20km.
func GeohashBucket(precision int) BucketFunc {
	return func(c *Candidate) string {
		if c.Bucket != "" {
			return c.Bucket
		}
		return geo.Cell(c.Location, precision)
	}
}

// sortResults orders by composite descending, then candidate ID ascending.
// Full ties keep their input order.
func sortResults(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score.Value, a.Score.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.CandidateID, b.CandidateID)
	})
}

// applyDiversityCap keeps at most maxPerBucket results per bucket in the
// head of the list. Over-quota results are demoted to the tail in their
// original order; nothing is dropped. results must already be sorted.
// Returns the reordered slice and the number of demoted results.
func applyDiversityCap(results []Result, maxPerBucket int) ([]Result, int) {
	if maxPerBucket <= 0 || len(results) == 0 {
		return results, 0
	}

	head := make([]Result, 0, len(results))
	var tail []Result
	counts := make(map[string]int)

	for _, r := range results {
		if r.Bucket == "" {
			head = append(head, r)
			continue
		}
		if counts[r.Bucket] < maxPerBucket {
			counts[r.Bucket]++
			head = append(head, r)
			continue
		}
		r.Demoted = true
		tail = append(tail, r)
	}

	return append(head, tail...), len(tail)
}
