package retrieval

import (
	"context"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
)

// Vector は Embedding ベクトル
type Vector = []float32

// Embedder はテキストの Embedding 生成インターフェース。
// インデックス構築とクエリで同じ Embedder を使う必要がある。
type Embedder interface {
	// Embed は単一テキストの Embedding を生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed は複数テキストの Embedding を入力順に生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension はベクトル次元数を返す（0 は未確定）
	Dimension() int
}

// Entry はインデックスに格納するチャンクとベクトルの組
type Entry struct {
	Chunk  ingestion.Chunk
	Vector Vector
}

// ScoredChunk は検索結果のチャンクと類似度スコア
type ScoredChunk struct {
	Chunk  ingestion.Chunk
	Vector Vector
	Score  float64
}

// Index は構築後は読み取り専用の近傍検索インデックス
type Index interface {
	// Search は類似度の降順で最大 k 件を返す
	Search(ctx context.Context, query Vector, k int) ([]ScoredChunk, error)

	// Len は格納チャンク数を返す
	Len() int

	// Dimension はベクトル次元数を返す
	Dimension() int

	// Metric は類似度の計算方法を返す
	Metric() Metric
}

// IndexFactory は Embedding 済みのエントリから Index を構築する
type IndexFactory func(ctx context.Context, entries []Entry, dimension int, metric Metric) (Index, error)
