package hashed_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/embedder/hashed"
)

func TestEmbedSparseNormalization(t *testing.T) {
	enc := hashed.NewEncoder(nil)

	vec, err := enc.EmbedSparse(context.Background(), "coffee coffee espresso")
	require.NoError(t, err)
	require.Len(t, vec, 2, "two distinct tokens should produce two entries")

	var norm float64
	for _, w := range vec {
		assert.Greater(t, w, 0.0, "weights should be positive")
		norm += w * w
	}
	assert.InDelta(t, 1.0, norm, 1e-9, "sparse vector should be L2-normalized")
}

func TestEmbedSparseDeterministic(t *testing.T) {
	enc := hashed.NewEncoder(nil)
	ctx := context.Background()

	first, err := enc.EmbedSparse(ctx, "User prefers dark roast coffee")
	require.NoError(t, err)
	second, err := enc.EmbedSparse(ctx, "User prefers dark roast coffee")
	require.NoError(t, err)

	assert.Equal(t, first, second, "same text should produce identical vectors")
}

func TestEmbedSparseCaseAndPunctuation(t *testing.T) {
	enc := hashed.NewEncoder(nil)
	ctx := context.Background()

	a, err := enc.EmbedSparse(ctx, "Coffee, Espresso!")
	require.NoError(t, err)
	b, err := enc.EmbedSparse(ctx, "coffee espresso")
	require.NoError(t, err)

	assert.Equal(t, a, b, "tokenization should ignore case and punctuation")
}

func TestEmbedSparseStopwordsAndShortTokens(t *testing.T) {
	enc := hashed.NewEncoder(nil)

	vec, err := enc.EmbedSparse(context.Background(), "a to the is on I")
	require.NoError(t, err)
	assert.Empty(t, vec, "stopwords and single-letter tokens should be dropped")
}

func TestEmbedSparseEmptyText(t *testing.T) {
	enc := hashed.NewEncoder(nil)

	vec, err := enc.EmbedSparse(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, vec)
	assert.Empty(t, vec)
}

func TestEmbedSparseBucketRange(t *testing.T) {
	enc := hashed.NewEncoder(&hashed.Config{Buckets: 128})

	vec, err := enc.EmbedSparse(context.Background(), "alpha beta gamma delta epsilon zeta theta")
	require.NoError(t, err)
	for id := range vec {
		assert.GreaterOrEqual(t, id, int32(0))
		assert.Less(t, id, int32(128))
	}
}

func TestTermFrequencyWeighting(t *testing.T) {
	enc := hashed.NewEncoder(nil)

	vec, err := enc.EmbedSparse(context.Background(), "coffee coffee coffee espresso")
	require.NoError(t, err)
	require.Len(t, vec, 2)

	var hi, lo float64 = 0, math.Inf(1)
	for _, w := range vec {
		if w > hi {
			hi = w
		}
		if w < lo {
			lo = w
		}
	}
	assert.InDelta(t, 3.0, hi/lo, 1e-9, "repeated token should carry proportionally more weight")
}
