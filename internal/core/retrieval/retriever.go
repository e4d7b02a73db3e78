package retrieval

import (
	"context"
	"errors"
	"math"

	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// SearchType は検索戦略
type SearchType string

const (
	// SearchTypeSimilarity は単純な近傍検索（デフォルト）
	SearchTypeSimilarity SearchType = "similarity"
	// SearchTypeMMR は Maximal Marginal Relevance による再選択
	SearchTypeMMR SearchType = "mmr"
)

const (
	// DefaultKDocuments はクエリごとに取得するチャンク数のデフォルト値
	DefaultKDocuments = 4
	// DefaultFetchK は MMR で候補として取得するチャンク数のデフォルト値
	DefaultFetchK = 20
	// DefaultMMRLambda は MMR の関連度と多様性の重みのデフォルト値
	DefaultMMRLambda = 0.5
)

// ParseSearchType は文字列から SearchType を取得する。空文字は similarity。
func ParseSearchType(s string) (SearchType, error) {
	switch SearchType(s) {
	case "", SearchTypeSimilarity:
		return SearchTypeSimilarity, nil
	case SearchTypeMMR:
		return SearchTypeMMR, nil
	default:
		return "", apperr.NewConfigError("searchType", "unknown search type %q", s)
	}
}

// RetrieverConfig は Retriever の設定
type RetrieverConfig struct {
	SearchType SearchType
	K          int
	FetchK     int
	Lambda     float64
}

// DefaultRetrieverConfig はデフォルトの Retriever 設定を返す
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		SearchType: SearchTypeSimilarity,
		K:          DefaultKDocuments,
		FetchK:     DefaultFetchK,
		Lambda:     DefaultMMRLambda,
	}
}

// Validate は設定値を検証する
func (c RetrieverConfig) Validate() error {
	if _, err := ParseSearchType(string(c.SearchType)); err != nil {
		return err
	}
	if c.K <= 0 {
		return apperr.NewConfigError("kDocuments", "must be positive, got %d", c.K)
	}
	if c.SearchType == SearchTypeMMR {
		if c.FetchK < c.K {
			return apperr.NewConfigError("fetchK", "must be >= kDocuments (%d < %d)", c.FetchK, c.K)
		}
		if c.Lambda < 0 || c.Lambda > 1 || math.IsNaN(c.Lambda) {
			return apperr.NewConfigError("mmrLambda", "must be within [0, 1], got %v", c.Lambda)
		}
	}
	return nil
}

// Retriever は Index から検索戦略に従ってチャンクを取得する
type Retriever struct {
	index Index
	cfg   RetrieverConfig
}

// NewRetriever は新しい Retriever を作成する
func NewRetriever(index Index, cfg RetrieverConfig) (*Retriever, error) {
	if index == nil {
		return nil, errors.New("index is required")
	}
	if cfg.SearchType == "" {
		cfg.SearchType = SearchTypeSimilarity
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Retriever{index: index, cfg: cfg}, nil
}

// Config は Retriever の設定を返す
func (r *Retriever) Config() RetrieverConfig { return r.cfg }

// Retrieve はクエリベクトルに対して最大 K 件のチャンクを返す
func (r *Retriever) Retrieve(ctx context.Context, query Vector) ([]ScoredChunk, error) {
	if r.cfg.SearchType != SearchTypeMMR {
		return r.index.Search(ctx, query, r.cfg.K)
	}

	candidates, err := r.index.Search(ctx, query, r.cfg.FetchK)
	if err != nil {
		return nil, err
	}
	return selectMMR(r.index.Metric(), candidates, r.cfg.K, r.cfg.Lambda), nil
}

// selectMMR は候補から関連度と冗長性のバランスで k 件を貪欲に選択する。
// candidates のスコアはクエリとの類似度であることを前提とする。
func selectMMR(metric Metric, candidates []ScoredChunk, k int, lambda float64) []ScoredChunk {
	if k > len(candidates) {
		k = len(candidates)
	}
	selected := make([]ScoredChunk, 0, k)
	used := make([]bool, len(candidates))

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			redundancy := math.Inf(-1)
			for _, s := range selected {
				redundancy = math.Max(redundancy, metric.Similarity(c.Vector, s.Vector))
			}
			if len(selected) == 0 {
				redundancy = 0
			}
			score := lambda*c.Score - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		selected = append(selected, candidates[best])
	}
	return selected
}
