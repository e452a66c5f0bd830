package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitVectorAt builds a 2D unit vector from its cosine and sine components
// so we can engineer exact cosine similarities between query and stored
// vectors.
func unitVectorAt(cos, sin float64) []float32 {
	return []float32{float32(cos), float32(sin)}
}

func addFixture(t *testing.T, idx *Index, sims []float32) {
	t.Helper()
	// query is the unit vector (1, 0); a stored vector (cos, sin) with
	// cos == target similarity yields exactly that cosine similarity
	// against the query after normalization.
	vectors := make([][]float32, len(sims))
	metas := make([]Metadata, len(sims))
	for i, s := range sims {
		sin := 0.0
		cosSq := float64(s) * float64(s)
		if cosSq < 1 {
			sin = sqrt(1 - cosSq)
		}
		vectors[i] = unitVectorAt(float64(s), sin)
		metas[i] = Metadata{Content: "doc", Filename: "f", Type: "t"}
	}
	require.NoError(t, idx.Add(context.Background(), vectors, metas, false))
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 50; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

func TestSearchDynamic_EmptyIndex(t *testing.T) {
	idx, err := New(SimilarityInnerProduct)
	require.NoError(t, err)

	candidates, stats, err := idx.SearchDynamic(context.Background(), []float32{1, 0}, 5, 3, 0.1, 1.0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Equal(t, 1.0, stats.FinalThreshold)
	assert.False(t, stats.TargetReached)
}

func TestSearchDynamic_HitTargetGreaterThanK(t *testing.T) {
	idx, err := New(SimilarityInnerProduct)
	require.NoError(t, err)
	addFixture(t, idx, []float32{0.9, 0.8})

	candidates, stats, err := idx.SearchDynamic(context.Background(), []float32{1, 0}, 2, 5, 0.1, 1.0)
	require.NoError(t, err)
	assert.False(t, stats.TargetReached)
	assert.Len(t, candidates, 2, "all available candidates returned when hit_target > k")
}

func TestSearchDynamic_StepOneAtMostTwoAttempts(t *testing.T) {
	idx, err := New(SimilarityInnerProduct)
	require.NoError(t, err)
	addFixture(t, idx, []float32{0.5})

	_, stats, err := idx.SearchDynamic(context.Background(), []float32{1, 0}, 5, 1, 1.0, 1.0)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.Attempts, 2)
	assert.True(t, stats.TargetReached)
}

func TestSearchDynamic_ProgressionDescends(t *testing.T) {
	idx, err := New(SimilarityInnerProduct)
	require.NoError(t, err)
	addFixture(t, idx, []float32{0.92, 0.71, 0.43, 0.10})

	_, stats, err := idx.SearchDynamic(context.Background(), []float32{1, 0}, 4, 4, 0.1, 1.0)
	require.NoError(t, err)

	for i := 1; i < len(stats.Progression); i++ {
		assert.Less(t, stats.Progression[i].Threshold, stats.Progression[i-1].Threshold)
	}
	assert.LessOrEqual(t, len(stats.Progression), maxProgressionLen(1.0, 0.1))
}

func TestSearchDynamic_TargetReachedInvariant(t *testing.T) {
	idx, err := New(SimilarityInnerProduct)
	require.NoError(t, err)
	addFixture(t, idx, []float32{0.92, 0.71, 0.58, 0.43, 0.10})

	candidates, stats, err := idx.SearchDynamic(context.Background(), []float32{1, 0}, 5, 3, 0.1, 1.0)
	require.NoError(t, err)

	if stats.TargetReached {
		assert.GreaterOrEqual(t, stats.FinalHits, stats.HitTarget)
		for _, c := range candidates {
			assert.GreaterOrEqual(t, float64(c.Similarity), stats.FinalThreshold)
		}
	}
}
