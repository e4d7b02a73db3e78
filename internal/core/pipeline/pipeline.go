package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
	"github.com/jinford/pdf-rag/internal/core/qa"
	"github.com/jinford/pdf-rag/internal/core/retrieval"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// Options はパイプライン構築時の設定
type Options struct {
	PDFDocument     string
	ChunkSize       int
	ChunkOverlap    int
	Separator       string
	Retriever       retrieval.RetrieverConfig
	Metric          retrieval.Metric
	Prompt          *qa.PromptTemplate
	MaxPromptTokens mo.Option[int]
	BatchSize       int
	Concurrency     int
}

// DefaultOptions はデフォルト設定を返す。PDFDocument は呼び出し側で設定する。
func DefaultOptions() Options {
	return Options{
		ChunkSize:       ingestion.DefaultChunkSize,
		ChunkOverlap:    ingestion.DefaultChunkOverlap,
		Separator:       ingestion.DefaultSeparator,
		Retriever:       retrieval.DefaultRetrieverConfig(),
		Metric:          retrieval.MetricCosine,
		MaxPromptTokens: mo.None[int](),
		BatchSize:       retrieval.DefaultBatchSize,
		Concurrency:     retrieval.DefaultConcurrency,
	}
}

// Validate は I/O の前に設定値を検証する
func (o Options) Validate() error {
	if strings.TrimSpace(o.PDFDocument) == "" {
		return apperr.NewConfigError("pdfDocument", "must not be empty")
	}
	if err := ingestion.ValidateChunking(o.ChunkSize, o.ChunkOverlap, o.Separator); err != nil {
		return err
	}
	if err := o.Retriever.Validate(); err != nil {
		return err
	}
	if _, err := retrieval.ParseMetric(string(o.Metric)); err != nil {
		return err
	}
	if o.BatchSize <= 0 {
		return apperr.NewConfigError("batchSize", "must be positive, got %d", o.BatchSize)
	}
	if o.Concurrency <= 0 {
		return apperr.NewConfigError("concurrency", "must be positive, got %d", o.Concurrency)
	}
	if limit, ok := o.MaxPromptTokens.Get(); ok && limit <= 0 {
		return apperr.NewConfigError("maxPromptTokens", "must be positive, got %d", limit)
	}
	return nil
}

// Pipeline は構築済みのインデックスと QA チェーンを保持する
type Pipeline struct {
	chain   *qa.Chain
	index   retrieval.Index
	chunks  int
	closers []func(context.Context) error
	logger  *slog.Logger
}

type pipelineOptions struct {
	logger       *slog.Logger
	factory      retrieval.IndexFactory
	tokenCounter qa.TokenCounter
	idGenerator  func() string
	closers      []func(context.Context) error
}

// Option は Pipeline のオプション設定
type Option func(*pipelineOptions)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(o *pipelineOptions) {
		o.logger = logger
	}
}

// WithIndexFactory はインデックスのバックエンドを差し替える
func WithIndexFactory(f retrieval.IndexFactory) Option {
	return func(o *pipelineOptions) {
		o.factory = f
	}
}

// WithTokenCounter はプロンプトのトークン数計測に使う TokenCounter を設定する
func WithTokenCounter(c qa.TokenCounter) Option {
	return func(o *pipelineOptions) {
		o.tokenCounter = c
	}
}

// WithIDGenerator はチャンクIDの生成関数を差し替える
func WithIDGenerator(fn func() string) Option {
	return func(o *pipelineOptions) {
		o.idGenerator = fn
	}
}

// WithCloser は Close 時に呼び出す解放処理を追加する
func WithCloser(fn func(context.Context) error) Option {
	return func(o *pipelineOptions) {
		if fn != nil {
			o.closers = append(o.closers, fn)
		}
	}
}

func applyOptions(opts []Option) pipelineOptions {
	o := pipelineOptions{
		logger:  slog.Default(),
		factory: retrieval.MemoryIndexFactory,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.factory == nil {
		o.factory = retrieval.MemoryIndexFactory
	}
	return o
}

// Prepare は設定検証、PDF読み込み、チャンク分割までを実行する
func Prepare(ctx context.Context, opts Options, loader ingestion.Loader, options ...Option) ([]ingestion.Chunk, error) {
	o := applyOptions(options)
	return prepare(ctx, opts, loader, o)
}

func prepare(ctx context.Context, opts Options, loader ingestion.Loader, o pipelineOptions) ([]ingestion.Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, errors.New("loader is required")
	}

	start := time.Now()
	docs, err := loader.Load(ctx, opts.PDFDocument)
	if err != nil {
		return nil, err
	}
	o.logger.Info("init stage completed", "stage", "load", "pages", len(docs), "duration", time.Since(start))

	splitterOpts := []ingestion.SplitterOption{ingestion.WithSeparator(opts.Separator)}
	if o.idGenerator != nil {
		splitterOpts = append(splitterOpts, ingestion.WithIDGenerator(o.idGenerator))
	}
	splitter, err := ingestion.NewSplitter(opts.ChunkSize, opts.ChunkOverlap, splitterOpts...)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	chunks := splitter.Split(docs)
	o.logger.Info("init stage completed", "stage", "split", "chunks", len(chunks), "duration", time.Since(start))
	return chunks, nil
}

// New は設定検証 → 読み込み → 分割 → インデックス構築を順に実行し Pipeline を作成する。
// 設定が不正な場合は loader を呼び出す前に ConfigError を返す。
func New(
	ctx context.Context,
	opts Options,
	model qa.Model,
	embedder retrieval.Embedder,
	loader ingestion.Loader,
	options ...Option,
) (*Pipeline, error) {
	o := applyOptions(options)

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("model is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	chunks, err := prepare(ctx, opts, loader, o)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	index, err := retrieval.Build(ctx, chunks, embedder,
		retrieval.WithBatchSize(opts.BatchSize),
		retrieval.WithConcurrency(opts.Concurrency),
		retrieval.WithMetric(opts.Metric),
		retrieval.WithIndexFactory(o.factory),
		retrieval.WithBuildLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}
	o.logger.Info("init stage completed", "stage", "index", "chunks", index.Len(), "duration", time.Since(start))

	p := &Pipeline{
		index:   index,
		chunks:  len(chunks),
		closers: o.closers,
		logger:  o.logger,
	}

	retriever, err := retrieval.NewRetriever(index, opts.Retriever)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}

	chainOpts := []qa.ChainOption{
		qa.WithChainLogger(o.logger),
		qa.WithPromptTemplate(opts.Prompt),
	}
	if o.tokenCounter != nil {
		chainOpts = append(chainOpts, qa.WithTokenBudget(o.tokenCounter, opts.MaxPromptTokens))
	}
	chain, err := qa.NewChain(embedder, retriever, model, chainOpts...)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	p.chain = chain
	return p, nil
}

// Ask は1件の質問を実行する。失敗しても Pipeline は引き続き利用できる。
func (p *Pipeline) Ask(ctx context.Context, query qa.Query) (*qa.Answer, error) {
	return p.chain.Ask(ctx, query)
}

// ChunkCount はインデックス済みのチャンク数を返す
func (p *Pipeline) ChunkCount() int { return p.chunks }

// Close はインデックスと登録済みのリソースを解放する
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	if closer, ok := p.index.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index: %w", err))
		}
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
