package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity(a, []float32{1, 2}), "length mismatch yields zero")
	assert.Equal(t, 0.0, CosineSimilarity(a, []float32{0, 0, 0}), "zero magnitude yields zero")
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	require.Len(t, v, 2)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	assert.Nil(t, Normalize(nil))
	assert.Nil(t, Normalize([]float32{0, 0}))
}

func TestMemoryIndexNearest(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(3)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Index(ctx, "exact", []float32{1, 0, 0}, base))
	require.NoError(t, idx.Index(ctx, "close", []float32{0.9, 0.1, 0}, base))
	require.NoError(t, idx.Index(ctx, "orthogonal", []float32{0, 0, 1}, base))

	t.Run("ranked descending", func(t *testing.T) {
		hits, err := idx.Nearest(ctx, []float32{1, 0, 0}, 3, nil)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "exact", hits[0].ID)
		assert.Equal(t, "close", hits[1].ID)
		assert.Equal(t, "orthogonal", hits[2].ID)
	})

	t.Run("k truncates", func(t *testing.T) {
		hits, err := idx.Nearest(ctx, []float32{1, 0, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "exact", hits[0].ID)
	})

	t.Run("min score filters", func(t *testing.T) {
		hits, err := idx.Nearest(ctx, []float32{1, 0, 0}, 3, &Filter{MinScore: 0.5})
		require.NoError(t, err)
		assert.Len(t, hits, 2, "orthogonal vector falls below the floor")
	})

	t.Run("visibility filter", func(t *testing.T) {
		hits, err := idx.Nearest(ctx, []float32{1, 0, 0}, 3, &Filter{
			Visible: func(id string) bool { return id != "exact" },
		})
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "close", hits[0].ID)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := idx.Nearest(ctx, []float32{1, 0}, 3, nil)
		assert.ErrorIs(t, err, ErrDimensionMismatch)

		err = idx.Index(ctx, "bad", []float32{1}, base)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestMemoryIndexTieBreaksByRecency(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Identical vectors, different observation times.
	require.NoError(t, idx.Index(ctx, "old", []float32{1, 0}, base))
	require.NoError(t, idx.Index(ctx, "new", []float32{1, 0}, base.Add(time.Hour)))

	hits, err := idx.Nearest(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "new", hits[0].ID, "equal scores rank newer first")
	assert.Equal(t, "old", hits[1].ID)
}

func TestMemoryIndexReindexAndRemove(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)
	base := time.Now()

	require.NoError(t, idx.Index(ctx, "a", []float32{1, 0}, base))
	require.NoError(t, idx.Index(ctx, "a", []float32{0, 1}, base), "re-index replaces the vector")

	hits, err := idx.Nearest(ctx, []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	require.NoError(t, idx.Remove(ctx, "a"))
	require.NoError(t, idx.Remove(ctx, "a"), "removing an unknown id is a no-op")

	hits, err = idx.Nearest(ctx, []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
