package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/mo"

	"github.com/jinford/pdf-rag/internal/core/retrieval"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

var (
	// ErrEmptyQuery は質問文が空の場合のエラー
	ErrEmptyQuery = errors.New("query input is empty")

	// ErrPromptTooLong はプロンプトがトークン上限を超えた場合のエラー
	ErrPromptTooLong = errors.New("prompt exceeds token budget")
)

// Model はLLM通信インターフェース
type Model interface {
	GenerateCompletion(ctx context.Context, prompt string) (string, error)
}

// TokenCounter はテキストのトークン数をカウントするインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}

// Chain は Retrieval-QA チェーン。呼び出し間で状態を持たない。
type Chain struct {
	embedder        retrieval.Embedder
	retriever       *retrieval.Retriever
	model           Model
	prompt          *PromptTemplate
	tokenCounter    TokenCounter
	maxPromptTokens mo.Option[int]
	logger          *slog.Logger
}

// ChainOption は Chain のオプション設定
type ChainOption func(*Chain)

// WithChainLogger はロガーを設定する
func WithChainLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithPromptTemplate はプロンプトテンプレートを差し替える
func WithPromptTemplate(t *PromptTemplate) ChainOption {
	return func(c *Chain) {
		if t != nil {
			c.prompt = t
		}
	}
}

// WithTokenBudget はプロンプトのトークン上限を設定する
func WithTokenBudget(counter TokenCounter, maxTokens mo.Option[int]) ChainOption {
	return func(c *Chain) {
		c.tokenCounter = counter
		c.maxPromptTokens = maxTokens
	}
}

// NewChain は新しい Chain を作成する。
// embedder はインデックス構築時と同じものを渡す。
func NewChain(embedder retrieval.Embedder, retriever *retrieval.Retriever, model Model, opts ...ChainOption) (*Chain, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if model == nil {
		return nil, errors.New("model is required")
	}

	c := &Chain{
		embedder:        embedder,
		retriever:       retriever,
		model:           model,
		prompt:          DefaultPrompt(),
		maxPromptTokens: mo.None[int](),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// run は1回の質問応答で状態間を引き回す値
type run struct {
	query   Query
	vector  retrieval.Vector
	results []retrieval.ScoredChunk
	prompt  string
	answer  string
}

// Ask は Idle → Retrieving → Composing → Invoking → Done の順に質問応答を実行する。
// いずれかのステージで失敗した場合は ChainError を返し、部分的な回答は返さない。
func (c *Chain) Ask(ctx context.Context, query Query) (*Answer, error) {
	r := &run{query: query}

	for stage := NextStage(apperr.StageIdle); stage != apperr.StageDone; stage = NextStage(stage) {
		if err := c.execute(ctx, stage, r); err != nil {
			c.logger.Warn("chain stage failed", "stage", string(stage), "error", err)
			return nil, &apperr.ChainError{Stage: stage, Err: err}
		}
		c.logger.Debug("chain stage completed", "stage", string(stage))
	}

	answer := &Answer{
		Input:  query.Input,
		Answer: r.answer,
	}
	for _, sc := range r.results {
		answer.Context = append(answer.Context, sc.Chunk)
		answer.Scores = append(answer.Scores, sc.Score)
	}
	return answer, nil
}

// NextStage は遷移先の状態を返す。Done の次は Done。
func NextStage(stage apperr.Stage) apperr.Stage {
	switch stage {
	case apperr.StageIdle:
		return apperr.StageRetrieving
	case apperr.StageRetrieving:
		return apperr.StageComposing
	case apperr.StageComposing:
		return apperr.StageInvoking
	default:
		return apperr.StageDone
	}
}

func (c *Chain) execute(ctx context.Context, stage apperr.Stage, r *run) error {
	switch stage {
	case apperr.StageRetrieving:
		return c.retrieve(ctx, r)
	case apperr.StageComposing:
		return c.compose(r)
	case apperr.StageInvoking:
		return c.invoke(ctx, r)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func (c *Chain) retrieve(ctx context.Context, r *run) error {
	if strings.TrimSpace(r.query.Input) == "" {
		return ErrEmptyQuery
	}

	vector, err := c.embedder.Embed(ctx, r.query.Input)
	if err != nil {
		return &apperr.EmbeddingError{Op: "embed query", Err: err}
	}
	if len(vector) == 0 {
		return &apperr.EmbeddingError{Op: "embed query", Err: errors.New("empty query vector")}
	}
	r.vector = vector

	results, err := c.retriever.Retrieve(ctx, vector)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}
	r.results = results

	c.logger.Info("retrieved context",
		"query", r.query.Input,
		"chunks", len(results),
		"searchType", string(c.retriever.Config().SearchType),
	)
	return nil
}

func (c *Chain) compose(r *run) error {
	r.prompt = c.prompt.Render(r.query.Input, r.results, r.query.ChatHistory)

	if c.tokenCounter == nil {
		return nil
	}
	tokens := c.tokenCounter.CountTokens(r.prompt)
	c.logger.Debug("prompt composed", "tokens", tokens, "historyTurns", r.query.ChatHistory.Len())

	if limit, ok := c.maxPromptTokens.Get(); ok && limit > 0 && tokens > limit {
		return fmt.Errorf("%w: %d > %d", ErrPromptTooLong, tokens, limit)
	}
	return nil
}

func (c *Chain) invoke(ctx context.Context, r *run) error {
	answer, err := c.model.GenerateCompletion(ctx, r.prompt)
	if err != nil {
		return fmt.Errorf("failed to generate answer: %w", err)
	}
	r.answer = answer

	c.logger.Info("answer generated", "answerLength", len(answer))
	return nil
}
