package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/pdf-rag/internal/core/retrieval"
)

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
}

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension はOpenAI推奨のデフォルト次元
	DefaultEmbeddingDimension = 1536
	// MaxBatchSize は1リクエストに含められる入力数の上限
	MaxBatchSize = 2048
)

type embedderOptions struct {
	model          string
	dimension      int
	baseURL        string
	requestOptions []option.RequestOption
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする。0 の場合は次元を指定せずモデルの既定値に従う。
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingBaseURL は OpenAI 互換エンドポイントのURLを設定する
func WithEmbeddingBaseURL(url string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = url
	}
}

// WithEmbeddingRequestOptions は SDK のリクエストオプションを追加する
func WithEmbeddingRequestOptions(opts ...option.RequestOption) EmbedderOption {
	return func(o *embedderOptions) {
		o.requestOptions = append(o.requestOptions, opts...)
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) (*Embedder, error) {
	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
	}
	for _, opt := range opts {
		opt(&options)
	}

	requestOptions, err := buildRequestOptions(apiKey, options.baseURL, options.requestOptions)
	if err != nil {
		return nil, err
	}

	return &Embedder{
		client:    openai.NewClient(requestOptions...),
		model:     options.model,
		dimension: options.dimension,
	}, nil
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	return embeddings[0], nil
}

// BatchEmbed はバッチで Embedding を生成する。戻り値は入力と同じ順に並ぶ。
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("batch size exceeds maximum of %d", MaxBatchSize)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) || embeddings[data.Index] != nil {
			return nil, fmt.Errorf("unexpected embedding index %d", data.Index)
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		embeddings[data.Index] = vector
	}

	return embeddings, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す。0 は未確定を表す。
func (e *Embedder) Dimension() int {
	return e.dimension
}

// インターフェース実装の確認
var _ retrieval.Embedder = (*Embedder)(nil)
