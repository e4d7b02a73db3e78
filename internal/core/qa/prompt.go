package qa

import (
	"fmt"
	"os"
	"strings"

	"github.com/jinford/pdf-rag/internal/core/retrieval"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// プロンプトテンプレートのプレースホルダ
const (
	PlaceholderInput       = "{input}"
	PlaceholderContext     = "{context}"
	PlaceholderChatHistory = "{chat_history}"
)

// DefaultPromptTemplate は標準の質問応答プロンプト
const DefaultPromptTemplate = `You are an assistant for question-answering tasks.
Use only the following pieces of retrieved context to answer the question.
If you don't know the answer, say that you don't know. Keep the answer concise.

## Context
{context}

## Conversation so far
{chat_history}

## Question
{input}

## Answer
`

const (
	emptyContext = "(no relevant context found)"
	emptyHistory = "(no previous conversation)"
)

// PromptTemplate は {input}、{context}、{chat_history} を置換するテンプレート
type PromptTemplate struct {
	text string
}

// NewPromptTemplate はテンプレートを検証して作成する。
// {input} と {context} は必須、{chat_history} は任意。
func NewPromptTemplate(text string) (*PromptTemplate, error) {
	for _, p := range []string{PlaceholderInput, PlaceholderContext} {
		if !strings.Contains(text, p) {
			return nil, apperr.NewConfigError("promptTemplate", "missing placeholder %s", p)
		}
	}
	return &PromptTemplate{text: text}, nil
}

// DefaultPrompt は標準テンプレートを返す
func DefaultPrompt() *PromptTemplate {
	return &PromptTemplate{text: DefaultPromptTemplate}
}

// LoadPromptTemplate はファイルからテンプレートを読み込む
func LoadPromptTemplate(path string) (*PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.NewConfigError("promptTemplate", "failed to read %s: %v", path, err)
	}
	return NewPromptTemplate(string(data))
}

// Render はプレースホルダを置換したプロンプトを返す
func (t *PromptTemplate) Render(input string, chunks []retrieval.ScoredChunk, history History) string {
	r := strings.NewReplacer(
		PlaceholderInput, input,
		PlaceholderContext, FormatContext(chunks),
		PlaceholderChatHistory, FormatHistory(history),
	)
	return r.Replace(t.text)
}

// FormatContext は検索順のチャンク本文を空行区切りで連結する
func FormatContext(chunks []retrieval.ScoredChunk) string {
	if len(chunks) == 0 {
		return emptyContext
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Chunk.Content
	}
	return strings.Join(parts, "\n\n")
}

// FormatHistory は会話履歴を時系列順に整形する
func FormatHistory(history History) string {
	if history.Len() == 0 {
		return emptyHistory
	}
	var sb strings.Builder
	for i, turn := range history.Turns() {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("Human: %s\nAI: %s", turn.Question, turn.Answer))
	}
	return sb.String()
}
