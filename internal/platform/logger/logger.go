package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// Config はロガーの設定
type Config struct {
	Level  slog.Level
	Format string    // "json" or "text"
	Output io.Writer // nil の場合は標準エラー出力
}

// DefaultConfig はデフォルトのロガー設定。
// 標準出力は回答の表示に使うため、ログは標準エラー出力に書く。
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// ParseLevel は debug/info/warn/error を slog.Level に変換する
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, apperr.NewConfigError("logLevel", "unknown level %q", s)
	}
	return level, nil
}

// ParseFormat はログ形式を検証する
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return "text", nil
	case "json":
		return "json", nil
	default:
		return "", apperr.NewConfigError("logFormat", "unknown format %q", s)
	}
}

// New は新しいロガーを作成し、デフォルトロガーとして設定します
func New(cfg Config) *slog.Logger {
	var handler slog.Handler

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default: // "text"
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
