package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

const (
	// DefaultBatchSize は1回の Embedding 呼び出しに含めるチャンク数のデフォルト値
	DefaultBatchSize = 100
	// DefaultConcurrency は同時に実行する Embedding 呼び出し数のデフォルト値
	DefaultConcurrency = 4
)

type buildOptions struct {
	batchSize   int
	concurrency int
	metric      Metric
	factory     IndexFactory
	logger      *slog.Logger
}

// BuildOption は Build のオプション設定
type BuildOption func(*buildOptions)

// WithBatchSize はバッチサイズを上書きする
func WithBatchSize(n int) BuildOption {
	return func(o *buildOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithConcurrency は同時実行数を上書きする
func WithConcurrency(n int) BuildOption {
	return func(o *buildOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithMetric は類似度の計算方法を指定する
func WithMetric(m Metric) BuildOption {
	return func(o *buildOptions) {
		if m != "" {
			o.metric = m
		}
	}
}

// WithIndexFactory はインデックスのバックエンドを差し替える
func WithIndexFactory(f IndexFactory) BuildOption {
	return func(o *buildOptions) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithBuildLogger はロガーを設定する
func WithBuildLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// Build は全チャンクの Embedding を生成し Index を構築する。
// バッチは並行に実行されるが、結果はチャンクの位置で対応付ける。
func Build(ctx context.Context, chunks []ingestion.Chunk, embedder Embedder, opts ...BuildOption) (Index, error) {
	options := buildOptions{
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		metric:      MetricCosine,
		factory:     MemoryIndexFactory,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	vectors := make([][]float32, len(chunks))
	batches := (len(chunks) + options.batchSize - 1) / options.batchSize

	options.logger.Info("embedding chunks",
		"chunks", len(chunks),
		"batches", batches,
		"batchSize", options.batchSize,
		"concurrency", options.concurrency,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(options.concurrency)

	for start := 0; start < len(chunks); start += options.batchSize {
		end := min(start+options.batchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Content)
			}

			embeddings, err := embedder.BatchEmbed(gctx, texts)
			if err != nil {
				return &apperr.EmbeddingError{Op: "embed chunks", Err: err}
			}
			if len(embeddings) != len(texts) {
				return &apperr.EmbeddingError{
					Op:  "embed chunks",
					Err: fmt.Errorf("got %d vectors for %d texts", len(embeddings), len(texts)),
				}
			}
			copy(vectors[start:end], embeddings)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dimension, err := checkDimensions(vectors, embedder.Dimension())
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{Chunk: c, Vector: vectors[i]}
	}

	idx, err := options.factory(ctx, entries, dimension, options.metric)
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	options.logger.Info("index built",
		"chunks", idx.Len(),
		"dimension", idx.Dimension(),
		"metric", string(idx.Metric()),
	)
	return idx, nil
}

// checkDimensions は全ベクトルの次元が一致することを検証し、その次元を返す
func checkDimensions(vectors [][]float32, expected int) (int, error) {
	dimension := expected
	for i, v := range vectors {
		if len(v) == 0 {
			return 0, &apperr.EmbeddingError{Op: "embed chunks", Err: fmt.Errorf("empty vector for chunk %d", i)}
		}
		if dimension == 0 {
			dimension = len(v)
		}
		if len(v) != dimension {
			return 0, &apperr.EmbeddingError{
				Op:  "embed chunks",
				Err: fmt.Errorf("chunk %d has dimension %d, want %d", i, len(v), dimension),
			}
		}
	}
	return dimension, nil
}
