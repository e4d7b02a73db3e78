package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/pdf-rag/internal/core/qa"
)

// DefaultEncoding は gpt-4o 系以前のチャットモデルで使われるエンコーディング
const DefaultEncoding = "cl100k_base"

// Counter は tiktoken によるトークン数カウンタ
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter は指定エンコーディングの Counter を作成する。空文字は cl100k_base。
// 初回はエンコーディングの取得にネットワークを使うことがある。
func NewCounter(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %s: %w", encoding, err)
	}
	return &Counter{encoding: enc}, nil
}

// NewCounterForModel はモデル名に対応するエンコーディングの Counter を作成する。
// 未知のモデルは cl100k_base にフォールバックする。
func NewCounterForModel(model string) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return NewCounter(DefaultEncoding)
	}
	return &Counter{encoding: enc}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (c *Counter) CountTokens(text string) int {
	if c.encoding == nil {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

var _ qa.TokenCounter = (*Counter)(nil)
