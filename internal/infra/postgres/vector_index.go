package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
	"github.com/jinford/pdf-rag/internal/core/retrieval"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// TablePrefix はパイプラインごとに作成するチャンクテーブル名の接頭辞
const TablePrefix = "pdfrag_chunks_"

// VectorIndex は pgvector のテーブルに格納したチャンクを検索する Index 実装。
// テーブルはパイプラインごとに作成し、Close で削除する。
type VectorIndex struct {
	pool      *pgxpool.Pool
	table     string
	chunks    []ingestion.Chunk
	dimension int
	metric    retrieval.Metric
	logger    *slog.Logger
}

type vectorIndexOptions struct {
	logger    *slog.Logger
	tableName func() string
}

// VectorIndexOption は VectorIndex のオプション設定
type VectorIndexOption func(*vectorIndexOptions)

// WithVectorIndexLogger はロガーを設定する
func WithVectorIndexLogger(logger *slog.Logger) VectorIndexOption {
	return func(o *vectorIndexOptions) {
		o.logger = logger
	}
}

// WithTableName はテーブル名を固定する
func WithTableName(name string) VectorIndexOption {
	return func(o *vectorIndexOptions) {
		if name != "" {
			o.tableName = func() string { return name }
		}
	}
}

func defaultTableName() string {
	return TablePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewVectorIndexFactory は pool を使って VectorIndex を構築する IndexFactory を返す
func NewVectorIndexFactory(pool *pgxpool.Pool, opts ...VectorIndexOption) retrieval.IndexFactory {
	options := vectorIndexOptions{
		logger:    slog.Default(),
		tableName: defaultTableName,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return func(ctx context.Context, entries []retrieval.Entry, dimension int, metric retrieval.Metric) (retrieval.Index, error) {
		return newVectorIndex(ctx, pool, entries, dimension, metric, options)
	}
}

// newVectorIndex はテーブルを作成してエントリを一括投入する
func newVectorIndex(
	ctx context.Context,
	pool *pgxpool.Pool,
	entries []retrieval.Entry,
	dimension int,
	metric retrieval.Metric,
	options vectorIndexOptions,
) (*VectorIndex, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if metric == "" {
		metric = retrieval.MetricCosine
	}
	if _, err := operator(metric); err != nil {
		return nil, err
	}

	idx := &VectorIndex{
		pool:      pool,
		table:     options.tableName(),
		dimension: dimension,
		metric:    metric,
		logger:    options.logger,
	}
	if len(entries) == 0 {
		return idx, nil
	}
	if dimension <= 0 {
		return nil, &apperr.EmbeddingError{Op: "build index", Err: fmt.Errorf("invalid dimension %d", dimension)}
	}

	chunks := make([]ingestion.Chunk, len(entries))
	for i, e := range entries {
		if len(e.Vector) != dimension {
			return nil, &apperr.EmbeddingError{
				Op:  "build index",
				Err: fmt.Errorf("entry %d has dimension %d, want %d", i, len(e.Vector), dimension),
			}
		}
		chunks[i] = e.Chunk
	}

	if err := idx.load(ctx, entries); err != nil {
		return nil, err
	}
	idx.chunks = chunks

	idx.logger.Info("vector table loaded", "table", idx.table, "rows", len(entries), "dimension", dimension)
	return idx, nil
}

func (idx *VectorIndex) load(ctx context.Context, entries []retrieval.Entry) error {
	tx, err := idx.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ddl := fmt.Sprintf(
		`CREATE TABLE %s (
			position integer PRIMARY KEY,
			chunk_id text NOT NULL,
			content text NOT NULL,
			embedding vector(%d) NOT NULL
		)`,
		idx.identifier(), idx.dimension,
	)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", idx.table, err)
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{idx.table},
		[]string{"position", "chunk_id", "content", "embedding"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{i, e.Chunk.ID, e.Chunk.Content, pgvector.NewVector(e.Vector)}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy entries: %w", err)
	}
	if int(copied) != len(entries) {
		return fmt.Errorf("copied %d rows, want %d", copied, len(entries))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Search は距離演算子で近い順に最大 k 件を返す
func (idx *VectorIndex) Search(ctx context.Context, query retrieval.Vector, k int) ([]retrieval.ScoredChunk, error) {
	if len(idx.chunks) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != idx.dimension {
		return nil, &apperr.EmbeddingError{
			Op:  "search",
			Err: fmt.Errorf("query dimension %d does not match index dimension %d", len(query), idx.dimension),
		}
	}

	op, err := operator(idx.metric)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(
		`SELECT position, embedding, embedding %s $1 AS distance FROM %s ORDER BY distance, position LIMIT $2`,
		op, idx.identifier(),
	)
	rows, err := idx.pool.Query(ctx, sql, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	var results []retrieval.ScoredChunk
	for rows.Next() {
		var (
			position  int
			embedding pgvector.Vector
			distance  float64
		)
		if err := rows.Scan(&position, &embedding, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if position < 0 || position >= len(idx.chunks) {
			return nil, fmt.Errorf("unexpected position %d in %s", position, idx.table)
		}
		results = append(results, retrieval.ScoredChunk{
			Chunk:  idx.chunks[position],
			Vector: embedding.Slice(),
			Score:  score(idx.metric, distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}
	return results, nil
}

// Len は格納チャンク数を返す
func (idx *VectorIndex) Len() int { return len(idx.chunks) }

// Dimension はベクトル次元数を返す
func (idx *VectorIndex) Dimension() int { return idx.dimension }

// Metric は類似度の計算方法を返す
func (idx *VectorIndex) Metric() retrieval.Metric { return idx.metric }

// Table はテーブル名を返す
func (idx *VectorIndex) Table() string { return idx.table }

// Close はテーブルを削除する
func (idx *VectorIndex) Close(ctx context.Context) error {
	if _, err := idx.pool.Exec(ctx, "DROP TABLE IF EXISTS "+idx.identifier()); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", idx.table, err)
	}
	idx.chunks = nil
	return nil
}

func (idx *VectorIndex) identifier() string {
	return pgx.Identifier{idx.table}.Sanitize()
}

// operator は metric に対応する pgvector の距離演算子を返す
func operator(metric retrieval.Metric) (string, error) {
	switch metric {
	case retrieval.MetricCosine, "":
		return "<=>", nil
	case retrieval.MetricDot:
		return "<#>", nil
	case retrieval.MetricEuclidean:
		return "<->", nil
	default:
		return "", apperr.NewConfigError("metric", "unsupported metric %q", metric)
	}
}

// score は距離を大きいほど近いスコアに変換する。
// <#> は内積の符号を反転した値を返す。
func score(metric retrieval.Metric, distance float64) float64 {
	switch metric {
	case retrieval.MetricDot, retrieval.MetricEuclidean:
		return -distance
	default:
		return 1 - distance
	}
}

var _ retrieval.Index = (*VectorIndex)(nil)
