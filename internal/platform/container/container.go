package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/mo"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
	"github.com/jinford/pdf-rag/internal/core/pipeline"
	"github.com/jinford/pdf-rag/internal/core/qa"
	"github.com/jinford/pdf-rag/internal/core/retrieval"
	"github.com/jinford/pdf-rag/internal/infra/localembed"
	"github.com/jinford/pdf-rag/internal/infra/openai"
	"github.com/jinford/pdf-rag/internal/infra/pdf"
	"github.com/jinford/pdf-rag/internal/infra/postgres"
	"github.com/jinford/pdf-rag/internal/infra/tokenizer"
	"github.com/jinford/pdf-rag/internal/platform/config"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

const (
	// ProviderOpenAI は OpenAI 互換 API で Embedding を生成する
	ProviderOpenAI = "openai"
	// ProviderHash はローカルの feature hashing で Embedding を生成する
	ProviderHash = "hash"

	// StoreMemory はプロセス内のインデックスを使う
	StoreMemory = "memory"
	// StorePGVector は PostgreSQL + pgvector のインデックスを使う
	StorePGVector = "pgvector"
)

// ServiceContainer はパイプライン構築に必要な依存関係を保持する
type ServiceContainer struct {
	cfg     *config.Config
	options pipeline.Options
	loader  ingestion.Loader
	logger  *slog.Logger

	model        qa.Model
	embedder     retrieval.Embedder
	tokenCounter qa.TokenCounter
}

type containerOptions struct {
	logger       *slog.Logger
	model        qa.Model
	embedder     retrieval.Embedder
	loader       ingestion.Loader
	tokenCounter qa.TokenCounter
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerModel は LLM クライアントを差し替える
func WithContainerModel(model qa.Model) ContainerOption {
	return func(opts *containerOptions) {
		opts.model = model
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder retrieval.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerLoader は Document Loader を差し替える
func WithContainerLoader(loader ingestion.Loader) ContainerOption {
	return func(opts *containerOptions) {
		opts.loader = loader
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter qa.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// NewContainer は設定を検証してコンテナを生成する。ネットワーク接続はまだ行わない。
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	pipelineOpts, err := PipelineOptions(cfg)
	if err != nil {
		return nil, err
	}
	if err := validateBackends(cfg); err != nil {
		return nil, err
	}

	loader := options.loader
	if loader == nil {
		loader = pdf.NewLoader(pdf.WithLoaderLogger(options.logger))
	}

	return &ServiceContainer{
		cfg:          cfg,
		options:      pipelineOpts,
		loader:       loader,
		logger:       options.logger,
		model:        options.model,
		embedder:     options.embedder,
		tokenCounter: options.tokenCounter,
	}, nil
}

// PipelineOptions は設定値を pipeline.Options に変換して検証する
func PipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	p := cfg.Pipeline

	searchType, err := retrieval.ParseSearchType(p.SearchType)
	if err != nil {
		return pipeline.Options{}, err
	}
	metric, err := retrieval.ParseMetric(p.DistanceMetric)
	if err != nil {
		return pipeline.Options{}, err
	}

	opts := pipeline.Options{
		PDFDocument:  p.PDFDocument,
		ChunkSize:    p.ChunkSize,
		ChunkOverlap: p.ChunkOverlap,
		Separator:    p.Separator,
		Retriever: retrieval.RetrieverConfig{
			SearchType: searchType,
			K:          p.KDocuments,
			FetchK:     p.FetchK,
			Lambda:     p.MMRLambda,
		},
		Metric:          metric,
		MaxPromptTokens: mo.None[int](),
		BatchSize:       cfg.Embedding.BatchSize,
		Concurrency:     cfg.Embedding.Concurrency,
	}
	if p.MaxPromptTokens > 0 {
		opts.MaxPromptTokens = mo.Some(p.MaxPromptTokens)
	}
	if p.PromptTemplate != "" {
		tmpl, err := qa.LoadPromptTemplate(p.PromptTemplate)
		if err != nil {
			return pipeline.Options{}, err
		}
		opts.Prompt = tmpl
	}

	if err := opts.Validate(); err != nil {
		return pipeline.Options{}, err
	}
	return opts, nil
}

func validateBackends(cfg *config.Config) error {
	switch cfg.Embedding.Provider {
	case ProviderOpenAI, ProviderHash:
	default:
		return apperr.NewConfigError("embeddingProvider", "unknown provider %q", cfg.Embedding.Provider)
	}
	switch cfg.VectorStore {
	case StoreMemory, StorePGVector:
	default:
		return apperr.NewConfigError("vectorStore", "unknown vector store %q", cfg.VectorStore)
	}
	return nil
}

// Options は検証済みのパイプライン設定を返す
func (c *ServiceContainer) Options() pipeline.Options { return c.options }

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Chunks は読み込みと分割のみを実行する
func (c *ServiceContainer) Chunks(ctx context.Context) ([]ingestion.Chunk, error) {
	return pipeline.Prepare(ctx, c.options, c.loader, pipeline.WithLogger(c.logger))
}

// NewPipeline はモデルを読み込み、インデックスを構築した Pipeline を返す
func (c *ServiceContainer) NewPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	if err := c.loadModels(); err != nil {
		return nil, err
	}

	pipelineOpts := []pipeline.Option{pipeline.WithLogger(c.logger)}
	if c.tokenCounter != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithTokenCounter(c.tokenCounter))
	}

	if c.cfg.VectorStore == StorePGVector {
		db, err := postgres.Connect(ctx, postgres.ConnectionParams{
			Host:     c.cfg.Database.Host,
			Port:     c.cfg.Database.Port,
			User:     c.cfg.Database.User,
			Password: c.cfg.Database.Password,
			DBName:   c.cfg.Database.DBName,
			SSLMode:  c.cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		pipelineOpts = append(pipelineOpts,
			pipeline.WithIndexFactory(postgres.NewVectorIndexFactory(db.Pool, postgres.WithVectorIndexLogger(c.logger))),
			pipeline.WithCloser(func(context.Context) error { db.Close(); return nil }),
		)

		p, err := pipeline.New(ctx, c.options, c.model, c.embedder, c.loader, pipelineOpts...)
		if err != nil {
			db.Close()
			return nil, err
		}
		return p, nil
	}

	return pipeline.New(ctx, c.options, c.model, c.embedder, c.loader, pipelineOpts...)
}

// loadModels は LLM クライアント、Embedder、TokenCounter を用意する
func (c *ServiceContainer) loadModels() error {
	start := time.Now()

	if c.model == nil {
		client, err := openai.NewClient(c.cfg.OpenAI.APIKey,
			openai.WithModel(c.cfg.Pipeline.Model),
			openai.WithTemperature(c.cfg.Pipeline.Temperature),
			openai.WithBaseURL(c.cfg.OpenAI.BaseURL),
			openai.WithClientLogger(c.logger),
		)
		if err != nil {
			return fmt.Errorf("OpenAI LLMクライアント初期化に失敗しました: %w", err)
		}
		c.model = client
	}

	if c.embedder == nil {
		switch c.cfg.Embedding.Provider {
		case ProviderHash:
			c.embedder = localembed.NewHashEmbedder(localembed.DefaultDimension)
		default:
			embedder, err := openai.NewEmbedder(c.cfg.OpenAI.APIKey,
				openai.WithEmbeddingModel(c.cfg.OpenAI.EmbeddingModel),
				openai.WithEmbeddingDimension(c.cfg.OpenAI.EmbeddingDimension),
				openai.WithEmbeddingBaseURL(c.cfg.OpenAI.BaseURL),
			)
			if err != nil {
				return fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
			}
			c.embedder = embedder
		}
	}

	if c.tokenCounter == nil && c.options.MaxPromptTokens.IsPresent() {
		counter, err := tokenizer.NewCounterForModel(c.cfg.Pipeline.Model)
		if err != nil {
			return fmt.Errorf("TokenCounter 初期化に失敗しました: %w", err)
		}
		c.tokenCounter = counter
	}

	c.logger.Info("init stage completed",
		"stage", "model",
		"model", c.cfg.Pipeline.Model,
		"embeddingProvider", c.cfg.Embedding.Provider,
		"duration", time.Since(start),
	)
	return nil
}
