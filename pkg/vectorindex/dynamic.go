package vectorindex

import (
	"context"
	"math"
)

// ThresholdAttempt records one step of the descent for the caller's
// progression log.
type ThresholdAttempt struct {
	Threshold    float64
	HitCount     int
	TargetReached bool
}

// ThresholdStats summarizes a dynamic-threshold search.
type ThresholdStats struct {
	HitTarget      int
	Step           float64
	FinalThreshold float64
	FinalHits      int
	TargetReached  bool
	Attempts       int
	Progression    []ThresholdAttempt
}

// maxProgressionLen bounds the descent's progression log length to
// ⌈initial/step⌉ + 1.
func maxProgressionLen(initial, step float64) int {
	if step <= 0 {
		return 1
	}
	return int(math.Ceil(initial/step)) + 1
}

// SearchDynamic performs the adaptive-threshold descent:
// pull the top-k candidates once, then relax the acceptance threshold τ from
// initialThreshold down to 0 by step until at least hitTarget of the
// candidates satisfy sim(c) ≥ τ, or the descent is exhausted. The top-k
// candidates are computed once; each round only re-partitions them, it
// never re-queries the index.
func (idx *Index) SearchDynamic(ctx context.Context, query []float32, k int, hitTarget int, step, initialThreshold float64) ([]Candidate, ThresholdStats, error) {
	candidates, err := idx.Search(ctx, query, k)
	if err != nil {
		return nil, ThresholdStats{}, err
	}

	stats := ThresholdStats{
		HitTarget: hitTarget,
		Step:      step,
	}

	if len(candidates) == 0 {
		stats.FinalThreshold = initialThreshold
		return nil, stats, nil
	}

	var best []Candidate
	bestThreshold := initialThreshold
	limit := maxProgressionLen(initialThreshold, step)

	tau := initialThreshold
	for len(stats.Progression) < limit && tau >= 0 {
		kept := candidatesAtOrAbove(candidates, tau)
		reached := len(kept) >= hitTarget

		stats.Progression = append(stats.Progression, ThresholdAttempt{
			Threshold:     tau,
			HitCount:      len(kept),
			TargetReached: reached,
		})
		stats.Attempts++

		if reached {
			best = kept
			bestThreshold = tau
			stats.TargetReached = true
			break
		}
		if len(kept) > len(best) {
			best = kept
			bestThreshold = tau
		}

		tau -= step
	}

	stats.FinalThreshold = bestThreshold
	stats.FinalHits = len(best)
	return best, stats, nil
}

// candidatesAtOrAbove filters candidates (assumed sorted descending by
// similarity) to those meeting threshold.
func candidatesAtOrAbove(candidates []Candidate, threshold float64) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if float64(c.Similarity) >= threshold {
			out = append(out, c)
		}
	}
	return out
}
