package localembed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/jinford/pdf-rag/internal/core/retrieval"
)

// DefaultDimension はハッシュ埋め込みのデフォルト次元数
const DefaultDimension = 256

// HashEmbedder は単語の feature hashing による決定的な Embedder。
// 外部サービスを使わずにパイプラインを動かす用途と、テスト用途に使う。
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder は新しい HashEmbedder を作成する。dimension <= 0 の場合はデフォルト値を使う。
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed はテキストを L2 正規化済みのベクトルに変換する
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

// BatchEmbed は入力順にベクトルを返す
func (e *HashEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

// Dimension はベクトル次元数を返す
func (e *HashEmbedder) Dimension() int { return e.dimension }

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()

		// 最上位ビットを符号に使う
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		v[sum%uint64(e.dimension)] += sign
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

var _ retrieval.Embedder = (*HashEmbedder)(nil)
