package retrieval

import (
	"context"
	"fmt"
	"slices"

	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// MemoryIndex は全件走査で近傍検索を行うインメモリ Index。
// 構築後は変更されないため、並行した Search は安全。
type MemoryIndex struct {
	entries   []Entry
	dimension int
	metric    Metric
}

// NewMemoryIndex は新しい MemoryIndex を作成する。エントリはコピーして保持する。
func NewMemoryIndex(entries []Entry, dimension int, metric Metric) (*MemoryIndex, error) {
	for i, e := range entries {
		if len(e.Vector) != dimension {
			return nil, &apperr.EmbeddingError{
				Op:  "build index",
				Err: fmt.Errorf("entry %d has dimension %d, want %d", i, len(e.Vector), dimension),
			}
		}
	}
	if metric == "" {
		metric = MetricCosine
	}

	return &MemoryIndex{
		entries:   slices.Clone(entries),
		dimension: dimension,
		metric:    metric,
	}, nil
}

// MemoryIndexFactory は MemoryIndex を構築する IndexFactory
func MemoryIndexFactory(_ context.Context, entries []Entry, dimension int, metric Metric) (Index, error) {
	return NewMemoryIndex(entries, dimension, metric)
}

// Search は類似度の降順で最大 k 件を返す。同点の場合は格納順を保つ。
func (idx *MemoryIndex) Search(ctx context.Context, query Vector, k int) ([]ScoredChunk, error) {
	if len(idx.entries) == 0 {
		return nil, nil
	}
	if len(query) != idx.dimension {
		return nil, &apperr.EmbeddingError{
			Op:  "search",
			Err: fmt.Errorf("query dimension %d does not match index dimension %d", len(query), idx.dimension),
		}
	}
	if k <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, len(idx.entries))
	for i, e := range idx.entries {
		scored[i] = ScoredChunk{
			Chunk:  e.Chunk,
			Vector: e.Vector,
			Score:  idx.metric.Similarity(query, e.Vector),
		}
	}

	slices.SortStableFunc(scored, func(a, b ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// Len は格納チャンク数を返す
func (idx *MemoryIndex) Len() int { return len(idx.entries) }

// Dimension はベクトル次元数を返す
func (idx *MemoryIndex) Dimension() int { return idx.dimension }

// Metric は類似度の計算方法を返す
func (idx *MemoryIndex) Metric() Metric { return idx.metric }

var _ Index = (*MemoryIndex)(nil)
