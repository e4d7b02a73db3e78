// Package apperr はパイプライン全体で共有するエラー分類を定義する。
//
// 各エラーは原因を Unwrap で返すため、errors.As で種類を、errors.Is で原因を判定できる。
package apperr

import (
	"fmt"
)

// Stage は Retrieval-QA チェーンの状態を表す
type Stage string

const (
	StageIdle       Stage = "idle"
	StageRetrieving Stage = "retrieving"
	StageComposing  Stage = "composing"
	StageInvoking   Stage = "invoking"
	StageDone       Stage = "done"
)

// ConfigError は設定値が不正な場合のエラー（I/O 開始前に検出される）
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// NewConfigError は ConfigError を作成する
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// LoadError はドキュメントの読み込みに失敗した場合のエラー
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load document %q: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// EmbeddingError は Embedding の生成または次元の検証に失敗した場合のエラー
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed (%s): %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ChainError は質問応答チェーンのいずれかのステージで失敗した場合のエラー
type ChainError struct {
	Stage Stage
	Err   error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain failed at %s: %v", e.Stage, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }
