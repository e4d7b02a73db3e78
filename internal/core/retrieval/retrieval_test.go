package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// letterEmbedder は a-z の出現回数を 26 次元ベクトルにする決定的な Embedder
type letterEmbedder struct {
	calls     atomic.Int32
	batchLens []int
	mu        sync.Mutex
	delay     func(texts []string) time.Duration
}

func letterVector(text string) []float32 {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

func (e *letterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return letterVector(text), nil
}

func (e *letterEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.batchLens = append(e.batchLens, len(texts))
	e.mu.Unlock()
	if e.delay != nil {
		time.Sleep(e.delay(texts))
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = letterVector(t)
	}
	return out, nil
}

func (e *letterEmbedder) Dimension() int { return 26 }

type funcEmbedder struct {
	batch func(texts []string) ([][]float32, error)
	dim   int
}

func (e *funcEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.batch([]string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *funcEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.batch(texts)
}

func (e *funcEmbedder) Dimension() int { return e.dim }

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var sampleTexts = []string{
	"alpha beta gamma",
	"golang concurrency patterns",
	"portable document format",
	"vector similarity search",
	"zebra quartz jump",
	"kitchen recipes and cooking",
	"mountain hiking trails",
	"xylophone music lessons",
	"weather forecast tomorrow",
	"history of the roman empire",
}

func sampleChunks(texts []string) []ingestion.Chunk {
	chunks := make([]ingestion.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = ingestion.Chunk{ID: fmt.Sprintf("c%d", i), Content: t, Index: i}
	}
	return chunks
}

func buildSample(t *testing.T, opts ...BuildOption) (Index, *letterEmbedder) {
	t.Helper()
	emb := &letterEmbedder{}
	opts = append([]BuildOption{WithBuildLogger(quietLogger)}, opts...)
	idx, err := Build(context.Background(), sampleChunks(sampleTexts), emb, opts...)
	require.NoError(t, err)
	return idx, emb
}

func TestSearch_ReturnsExactlyKOrderedByScore(t *testing.T) {
	idx, emb := buildSample(t)
	ctx := context.Background()
	require.Equal(t, 10, idx.Len())

	q, err := emb.Embed(ctx, "document similarity")
	require.NoError(t, err)

	known := map[string]bool{}
	for i := range sampleTexts {
		known[fmt.Sprintf("c%d", i)] = true
	}

	for k := 1; k <= 10; k++ {
		results, err := idx.Search(ctx, q, k)
		require.NoError(t, err)
		require.Len(t, results, k)
		for i, r := range results {
			assert.True(t, known[r.Chunk.ID])
			if i > 0 {
				assert.GreaterOrEqual(t, results[i-1].Score, r.Score)
			}
		}
	}
}

func TestSearch_KLargerThanIndexReturnsAll(t *testing.T) {
	idx, emb := buildSample(t)
	q, _ := emb.Embed(context.Background(), "anything")

	results, err := idx.Search(context.Background(), q, 25)
	require.NoError(t, err)
	assert.Len(t, results, 10)
}

func TestSearch_OwnTextRanksFirst(t *testing.T) {
	idx, emb := buildSample(t)
	ctx := context.Background()

	for i, text := range sampleTexts {
		q, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		again, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, q, again)

		results, err := idx.Search(ctx, q, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, fmt.Sprintf("c%d", i), results[0].Chunk.ID, "query %q", text)
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	idx, _ := buildSample(t)

	_, err := idx.Search(context.Background(), []float32{1, 2, 3}, 3)
	var embErr *apperr.EmbeddingError
	require.True(t, errors.As(err, &embErr))
}

func TestSearch_NonPositiveK(t *testing.T) {
	idx, emb := buildSample(t)
	q, _ := emb.Embed(context.Background(), "alpha")

	results, err := idx.Search(context.Background(), q, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBuild_BatchesAndKeepsChunkOrder(t *testing.T) {
	emb := &letterEmbedder{
		// 先頭のバッチほど遅く返す
		delay: func(texts []string) time.Duration {
			if strings.HasPrefix(texts[0], "alpha") {
				return 30 * time.Millisecond
			}
			return 0
		},
	}

	idx, err := Build(context.Background(), sampleChunks(sampleTexts), emb,
		WithBatchSize(3),
		WithConcurrency(4),
		WithBuildLogger(quietLogger),
	)
	require.NoError(t, err)

	assert.Equal(t, int32(4), emb.calls.Load())
	assert.ElementsMatch(t, []int{3, 3, 3, 1}, emb.batchLens)

	mem, ok := idx.(*MemoryIndex)
	require.True(t, ok)
	for i, e := range mem.entries {
		assert.Equal(t, sampleTexts[i], e.Chunk.Content)
		assert.Equal(t, letterVector(sampleTexts[i]), e.Vector)
	}
}

func TestBuild_EmbedderFailure(t *testing.T) {
	cause := errors.New("service unavailable")
	emb := &funcEmbedder{batch: func(texts []string) ([][]float32, error) { return nil, cause }}

	idx, err := Build(context.Background(), sampleChunks(sampleTexts), emb, WithBuildLogger(quietLogger))
	require.Error(t, err)
	assert.Nil(t, idx)

	var embErr *apperr.EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.ErrorIs(t, err, cause)
}

func TestBuild_RejectsMismatchedDimensions(t *testing.T) {
	tests := []struct {
		name  string
		dim   int
		batch func(texts []string) ([][]float32, error)
	}{
		{
			name: "vectors disagree",
			batch: func(texts []string) ([][]float32, error) {
				out := make([][]float32, len(texts))
				for i := range texts {
					out[i] = make([]float32, 3+i%2)
				}
				return out, nil
			},
		},
		{
			name: "declared dimension differs",
			dim:  8,
			batch: func(texts []string) ([][]float32, error) {
				out := make([][]float32, len(texts))
				for i := range texts {
					out[i] = make([]float32, 4)
				}
				return out, nil
			},
		},
		{
			name: "wrong vector count",
			batch: func(texts []string) ([][]float32, error) {
				return [][]float32{{1, 2}}, nil
			},
		},
		{
			name: "empty vector",
			batch: func(texts []string) ([][]float32, error) {
				return make([][]float32, len(texts)), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &funcEmbedder{batch: tt.batch, dim: tt.dim}
			_, err := Build(context.Background(), sampleChunks(sampleTexts[:4]), emb, WithBuildLogger(quietLogger))
			var embErr *apperr.EmbeddingError
			require.True(t, errors.As(err, &embErr), "got %v", err)
		})
	}
}

func TestBuild_EmptyChunks(t *testing.T) {
	idx, err := Build(context.Background(), nil, &letterEmbedder{}, WithBuildLogger(quietLogger))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	results, err := idx.Search(context.Background(), letterVector("x"), 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBuild_UsesIndexFactory(t *testing.T) {
	var gotDim int
	var gotMetric Metric
	factory := func(ctx context.Context, entries []Entry, dimension int, metric Metric) (Index, error) {
		gotDim, gotMetric = dimension, metric
		return NewMemoryIndex(entries, dimension, metric)
	}

	_, err := Build(context.Background(), sampleChunks(sampleTexts), &letterEmbedder{},
		WithIndexFactory(factory),
		WithMetric(MetricDot),
		WithBuildLogger(quietLogger),
	)
	require.NoError(t, err)
	assert.Equal(t, 26, gotDim)
	assert.Equal(t, MetricDot, gotMetric)
}

func TestMetricSimilarity(t *testing.T) {
	a := Vector{1, 0}
	b := Vector{0, 1}

	assert.InDelta(t, 1.0, MetricCosine.Similarity(a, a), 1e-9)
	assert.InDelta(t, 0.0, MetricCosine.Similarity(a, b), 1e-9)
	assert.InDelta(t, 0.0, MetricCosine.Similarity(a, Vector{0, 0}), 1e-9)
	assert.InDelta(t, 2.0, MetricDot.Similarity(Vector{1, 1}, Vector{1, 1}), 1e-9)
	assert.InDelta(t, -1.4142135, MetricEuclidean.Similarity(a, b), 1e-6)
}

func TestParseMetricAndSearchType(t *testing.T) {
	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)

	_, err = ParseMetric("manhattan")
	var cfgErr *apperr.ConfigError
	assert.True(t, errors.As(err, &cfgErr))

	st, err := ParseSearchType("mmr")
	require.NoError(t, err)
	assert.Equal(t, SearchTypeMMR, st)

	_, err = ParseSearchType("hybrid")
	assert.True(t, errors.As(err, &cfgErr))
}

func TestRetriever_Validation(t *testing.T) {
	idx, _ := buildSample(t)

	tests := []struct {
		name  string
		cfg   RetrieverConfig
		field string
	}{
		{name: "zero k", cfg: RetrieverConfig{K: 0}, field: "kDocuments"},
		{name: "unknown search type", cfg: RetrieverConfig{SearchType: "hybrid", K: 3}, field: "searchType"},
		{name: "fetchK below k", cfg: RetrieverConfig{SearchType: SearchTypeMMR, K: 5, FetchK: 2, Lambda: 0.5}, field: "fetchK"},
		{name: "lambda out of range", cfg: RetrieverConfig{SearchType: SearchTypeMMR, K: 2, FetchK: 5, Lambda: 1.5}, field: "mmrLambda"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRetriever(idx, tt.cfg)
			var cfgErr *apperr.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestRetriever_SimilarityReturnsK(t *testing.T) {
	idx, emb := buildSample(t)
	r, err := NewRetriever(idx, RetrieverConfig{K: 3})
	require.NoError(t, err)

	q, _ := emb.Embed(context.Background(), "vector search")
	results, err := r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c3", results[0].Chunk.ID)
}

func TestRetriever_MMRPrefersDiverseResults(t *testing.T) {
	entries := []Entry{
		{Chunk: ingestion.Chunk{ID: "a"}, Vector: Vector{1, 0}},
		{Chunk: ingestion.Chunk{ID: "a-dup"}, Vector: Vector{0.99, 0.01}},
		{Chunk: ingestion.Chunk{ID: "b"}, Vector: Vector{0.6, 0.8}},
	}
	idx, err := NewMemoryIndex(entries, 2, MetricCosine)
	require.NoError(t, err)
	q := Vector{1, 0}

	sim, err := NewRetriever(idx, RetrieverConfig{SearchType: SearchTypeSimilarity, K: 2})
	require.NoError(t, err)
	simResults, err := sim.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a-dup"}, chunkIDs(simResults))

	mmr, err := NewRetriever(idx, RetrieverConfig{SearchType: SearchTypeMMR, K: 2, FetchK: 3, Lambda: 0.3})
	require.NoError(t, err)
	mmrResults, err := mmr.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, chunkIDs(mmrResults))
}

func chunkIDs(results []ScoredChunk) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ID
	}
	return ids
}
