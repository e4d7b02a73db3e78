package localembed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pdf-rag/internal/core/retrieval"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Alice Smith Engineer")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Alice Smith Engineer")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashEmbedder_NormalizedAndCaseInsensitive(t *testing.T) {
	e := NewHashEmbedder(0)
	ctx := context.Background()

	v, err := e.Embed(ctx, "Vector search, vector SEARCH!")
	require.NoError(t, err)
	assert.Len(t, v, DefaultDimension)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	lower, err := e.Embed(ctx, "vector search vector search")
	require.NoError(t, err)
	assert.Equal(t, lower, v)
}

func TestHashEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	v, err := NewHashEmbedder(8).Embed(context.Background(), "  ... ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

func TestHashEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewHashEmbedder(32)
	ctx := context.Background()
	texts := []string{"one", "two words", "three little words"}

	batch, err := e.BatchEmbed(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))
	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestHashEmbedder_SelfSimilarityIsMaximal(t *testing.T) {
	e := NewHashEmbedder(DefaultDimension)
	ctx := context.Background()

	texts := []string{
		"the quarterly finance report",
		"kubernetes cluster upgrade notes",
		"recipe for tomato pasta",
	}
	vectors, err := e.BatchEmbed(ctx, texts)
	require.NoError(t, err)

	for i, v := range vectors {
		self := retrieval.MetricCosine.Similarity(v, v)
		for j, other := range vectors {
			if i == j {
				continue
			}
			assert.Greater(t, self, retrieval.MetricCosine.Similarity(v, other))
		}
	}
}

func TestHashEmbedder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHashEmbedder(8).Embed(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = NewHashEmbedder(8).BatchEmbed(ctx, []string{"text"})
	assert.ErrorIs(t, err, context.Canceled)
}
