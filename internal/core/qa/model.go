package qa

import (
	"slices"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
)

// Turn は1往復の質問と回答
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// History は追記のみ可能な会話履歴。
// Append は新しい History を返し、受け取った History を変更しないため、会話を分岐・再生できる。
type History struct {
	turns []Turn
}

// NewHistory は与えられたターンから History を作成する
func NewHistory(turns ...Turn) History {
	return History{turns: slices.Clone(turns)}
}

// Append はターンを末尾に追加した新しい History を返す
func (h History) Append(turn Turn) History {
	turns := make([]Turn, len(h.turns), len(h.turns)+1)
	copy(turns, h.turns)
	return History{turns: append(turns, turn)}
}

// Turns は時系列順のターンのコピーを返す
func (h History) Turns() []Turn {
	return slices.Clone(h.turns)
}

// Len はターン数を返す
func (h History) Len() int { return len(h.turns) }

// Query はチェーンへの入力
type Query struct {
	Input       string
	ChatHistory History
}

// Answer はチェーンの出力
type Answer struct {
	Input   string            // 質問文
	Answer  string            // LLMによる回答
	Context []ingestion.Chunk // 類似度順の参照チャンク
	Scores  []float64         // Context と同じ順の類似度スコア
}

// Turn は Answer から履歴に追加する Turn を作成する
func (a *Answer) Turn() Turn {
	return Turn{Question: a.Input, Answer: a.Answer}
}
