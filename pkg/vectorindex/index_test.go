package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_AddAndSearch(t *testing.T) {
	idx, err := New(SimilarityInnerProduct)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}, {0, 1}}, []Metadata{
		{Content: "alpha", Filename: "a.txt", Type: "doc"},
		{Content: "beta", Filename: "b.txt", Type: "doc"},
	}, false))
	assert.Equal(t, 2, idx.Count())

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Metadata.Content)
}

func TestIndex_Search_EmptyIndexNoPanic(t *testing.T) {
	idx, err := New(SimilarityInnerProduct)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_PersistAndLoadOrCreate_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		VectorPath:   filepath.Join(dir, "index.gob"),
		MetadataPath: filepath.Join(dir, "meta.json"),
	}

	idx, err := LoadOrCreate(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Count())

	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []Metadata{
		{Content: "alpha", Filename: "a.txt", Type: "doc"},
	}, true))

	reloaded, err := LoadOrCreate(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Count())

	results, err := reloaded.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Metadata.Content)
}

func TestIndex_Clear(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		VectorPath:   filepath.Join(dir, "index.gob"),
		MetadataPath: filepath.Join(dir, "meta.json"),
	}
	idx, err := LoadOrCreate(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []Metadata{
		{Content: "alpha", Filename: "a.txt", Type: "doc"},
	}, true))
	require.NoError(t, idx.Clear())
	assert.Equal(t, 0, idx.Count())

	results, err := idx.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}
