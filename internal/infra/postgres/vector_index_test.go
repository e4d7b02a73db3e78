package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
	"github.com/jinford/pdf-rag/internal/core/retrieval"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

func TestOperatorAndScore(t *testing.T) {
	tests := []struct {
		metric   retrieval.Metric
		op       string
		distance float64
		score    float64
	}{
		{metric: retrieval.MetricCosine, op: "<=>", distance: 0.25, score: 0.75},
		{metric: retrieval.MetricDot, op: "<#>", distance: -3, score: 3},
		{metric: retrieval.MetricEuclidean, op: "<->", distance: 2, score: -2},
	}

	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			op, err := operator(tt.metric)
			require.NoError(t, err)
			assert.Equal(t, tt.op, op)
			assert.InDelta(t, tt.score, score(tt.metric, tt.distance), 1e-9)
		})
	}

	_, err := operator("manhattan")
	var cfgErr *apperr.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestDefaultTableName(t *testing.T) {
	a, b := defaultTableName(), defaultTableName()
	assert.True(t, strings.HasPrefix(a, TablePrefix))
	assert.NotContains(t, a, "-")
	assert.NotEqual(t, a, b)
}

func TestConnString(t *testing.T) {
	params := ConnectionParams{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable", params.ConnString())
}

// startPostgres は pgvector 入りの PostgreSQL コンテナを起動する。
// PDFRAG_INTEGRATION=1 の場合のみ実行する。
func startPostgres(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("PDFRAG_INTEGRATION") != "1" {
		t.Skip("set PDFRAG_INTEGRATION=1 to run pgvector integration tests")
	}

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)
	require.NoError(t, pool.Client.Ping())

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=pdfrag",
			"POSTGRES_PASSWORD=pdfrag",
			"POSTGRES_DB=pdfrag",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })
	_ = resource.Expire(300)

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	require.NoError(t, err)

	params := ConnectionParams{
		Host:     "localhost",
		Port:     port,
		User:     "pdfrag",
		Password: "pdfrag",
		DBName:   "pdfrag",
		SSLMode:  "disable",
	}

	var db *DB
	pool.MaxWait = 2 * time.Minute
	require.NoError(t, pool.Retry(func() error {
		var err error
		db, err = Connect(context.Background(), params)
		return err
	}))
	t.Cleanup(db.Close)
	return db
}

func testEntries() []retrieval.Entry {
	vectors := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	entries := make([]retrieval.Entry, len(vectors))
	for i, v := range vectors {
		entries[i] = retrieval.Entry{
			Chunk: ingestion.Chunk{
				ID:       fmt.Sprintf("c%d", i),
				Content:  fmt.Sprintf("chunk %d", i),
				Index:    i,
				Metadata: map[string]any{ingestion.MetadataPage: 1},
			},
			Vector: v,
		}
	}
	return entries
}

func TestVectorIndex_MatchesMemoryIndex(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, metric := range []retrieval.Metric{retrieval.MetricCosine, retrieval.MetricDot, retrieval.MetricEuclidean} {
		t.Run(string(metric), func(t *testing.T) {
			factory := NewVectorIndexFactory(db.Pool, WithVectorIndexLogger(logger))
			idx, err := factory(ctx, testEntries(), 3, metric)
			require.NoError(t, err)
			vi := idx.(*VectorIndex)
			defer vi.Close(ctx)

			mem, err := retrieval.NewMemoryIndex(testEntries(), 3, metric)
			require.NoError(t, err)

			query := retrieval.Vector{1, 0.05, 0}
			got, err := idx.Search(ctx, query, 3)
			require.NoError(t, err)
			want, err := mem.Search(ctx, query, 3)
			require.NoError(t, err)

			require.Len(t, got, 3)
			for i := range want {
				assert.Equal(t, want[i].Chunk.ID, got[i].Chunk.ID)
				assert.InDelta(t, want[i].Score, got[i].Score, 1e-4)
			}
			assert.Equal(t, 1, got[0].Chunk.Metadata[ingestion.MetadataPage])
		})
	}
}

func TestVectorIndex_CloseDropsTable(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	idx, err := NewVectorIndexFactory(db.Pool, WithTableName("pdfrag_chunks_close_test"))(ctx, testEntries(), 3, retrieval.MetricCosine)
	require.NoError(t, err)
	vi := idx.(*VectorIndex)

	var exists bool
	require.NoError(t, db.Pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", vi.Table()).Scan(&exists))
	assert.True(t, exists)

	require.NoError(t, vi.Close(ctx))
	require.NoError(t, db.Pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", vi.Table()).Scan(&exists))
	assert.False(t, exists)
}

func TestVectorIndex_QueryDimensionMismatch(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	idx, err := NewVectorIndexFactory(db.Pool)(ctx, testEntries(), 3, retrieval.MetricCosine)
	require.NoError(t, err)
	defer idx.(*VectorIndex).Close(ctx)

	_, err = idx.Search(ctx, retrieval.Vector{1, 0}, 2)
	var embErr *apperr.EmbeddingError
	assert.True(t, errors.As(err, &embErr))
}
