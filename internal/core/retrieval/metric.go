package retrieval

import (
	"math"

	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// Metric はベクトル間の類似度の計算方法
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric は文字列から Metric を取得する。空文字はコサイン類似度。
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricDot:
		return MetricDot, nil
	case MetricEuclidean:
		return MetricEuclidean, nil
	default:
		return "", apperr.NewConfigError("metric", "unknown distance metric %q", s)
	}
}

// Similarity は a と b の類似度を返す。値が大きいほど類似している。
// ユークリッド距離の場合は距離の符号を反転した値を返す。
func (m Metric) Similarity(a, b Vector) float64 {
	switch m {
	case MetricDot:
		return dot(a, b)
	case MetricEuclidean:
		return -euclidean(a, b)
	default:
		return cosine(a, b)
	}
}

func dot(a, b Vector) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b Vector) float64 {
	var ab, aa, bb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		ab += x * y
		aa += x * x
		bb += y * y
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return ab / (math.Sqrt(aa) * math.Sqrt(bb))
}

func euclidean(a, b Vector) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
