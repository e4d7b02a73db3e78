package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/pdf-rag/internal/core/qa"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrNoChoices はレスポンスに候補が含まれない場合のエラー
	ErrNoChoices = errors.New("no completion choices returned")
)

// Client は OpenAI 互換 API を使用した LLM クライアント実装。
// SDK のリトライは無効化しており、1回の呼び出しは1リクエストになる。
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	logger      *slog.Logger
}

type clientOptions struct {
	model          string
	temperature    float64
	baseURL        string
	requestOptions []option.RequestOption
	logger         *slog.Logger
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithModel はモデル名を上書きする
func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithTemperature は temperature を設定する
func WithTemperature(t float64) ClientOption {
	return func(o *clientOptions) {
		o.temperature = t
	}
}

// WithBaseURL は OpenAI 互換エンドポイント（Ollama など）のURLを設定する
func WithBaseURL(url string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithRequestOptions は SDK のリクエストオプションを追加する
func WithRequestOptions(opts ...option.RequestOption) ClientOption {
	return func(o *clientOptions) {
		o.requestOptions = append(o.requestOptions, opts...)
	}
}

// WithClientLogger はロガーを設定する
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// NewClient は新しい Client を作成する。
// ベースURLを指定しない場合はAPIキーが必須。
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	options := clientOptions{
		model:  DefaultModel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	requestOptions, err := buildRequestOptions(apiKey, options.baseURL, options.requestOptions)
	if err != nil {
		return nil, err
	}

	return &Client{
		client:      openai.NewClient(requestOptions...),
		model:       options.model,
		temperature: options.temperature,
		logger:      options.logger,
	}, nil
}

func buildRequestOptions(apiKey, baseURL string, extra []option.RequestOption) ([]option.RequestOption, error) {
	if apiKey == "" && baseURL == "" {
		return nil, ErrAPIKeyNotSet
	}
	if apiKey == "" {
		// ローカルの互換サーバはキーを検証しない
		apiKey = "unused"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return append(opts, extra...), nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// GenerateCompletion はプロンプトを1つのユーザーメッセージとして送信し、回答テキストを返す
func (c *Client) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrNoChoices
	}

	c.logger.Debug("chat completion received",
		"model", completion.Model,
		"totalTokens", completion.Usage.TotalTokens,
	)
	return completion.Choices[0].Message.Content, nil
}

// インターフェース実装の確認
var _ qa.Model = (*Client)(nil)
