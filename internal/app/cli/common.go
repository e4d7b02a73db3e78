package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
	"github.com/jinford/pdf-rag/internal/core/qa"
	"github.com/jinford/pdf-rag/internal/platform/config"
	"github.com/jinford/pdf-rag/internal/platform/container"
	"github.com/jinford/pdf-rag/internal/platform/logger"
)

// Asker は1件の質問に回答するインターフェース
type Asker interface {
	Ask(ctx context.Context, query qa.Query) (*qa.Answer, error)
}

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// NewAppContext は設定を読み込み、フラグで上書きして AppContext を作成する
func NewAppContext(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	// 設定の読み込み（.env → YAML → フラグの順に上書き）
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if path := cmd.String("pipeline"); path != "" {
		if err := cfg.ApplyPipelineFile(path); err != nil {
			return nil, fmt.Errorf("パイプライン設定の読み込みに失敗: %w", err)
		}
	}
	applyFlags(cmd, cfg)

	// ロガーの初期化
	appLogger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	cont, err := container.NewContainer(cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	logCfg := logger.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = format
	return logger.New(logCfg), nil
}

// applyFlags は明示的に指定されたフラグで設定を上書きする
func applyFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("pdf") {
		cfg.Pipeline.PDFDocument = cmd.String("pdf")
	}
	if cmd.IsSet("k") {
		cfg.Pipeline.KDocuments = cmd.Int("k")
	}
	if cmd.IsSet("chunk-size") {
		cfg.Pipeline.ChunkSize = cmd.Int("chunk-size")
	}
	if cmd.IsSet("chunk-overlap") {
		cfg.Pipeline.ChunkOverlap = cmd.Int("chunk-overlap")
	}
	if cmd.IsSet("search-type") {
		cfg.Pipeline.SearchType = cmd.String("search-type")
	}
}

// openPipeline は AppContext を作成してパイプラインを構築する
func openPipeline(ctx context.Context, cmd *cli.Command) (*AppContext, askCloser, error) {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}

	p, err := appCtx.Container.NewPipeline(ctx)
	if err != nil {
		appCtx.Logger().Error("パイプラインの構築に失敗しました", "error", err)
		return nil, nil, err
	}
	return appCtx, p, nil
}

type askCloser interface {
	Asker
	Close(ctx context.Context) error
}

// printAnswer は回答と、必要に応じて参照チャンクを出力する
func printAnswer(out io.Writer, answer *qa.Answer, showSources bool) {
	fmt.Fprintln(out, answer.Answer)

	if !showSources || len(answer.Context) == 0 {
		return
	}
	fmt.Fprintln(out, "\n--- 参照チャンク ---")
	for i, chunk := range answer.Context {
		score := 0.0
		if i < len(answer.Scores) {
			score = answer.Scores[i]
		}
		fmt.Fprintf(out, "[%d] page %s #%d スコア: %.4f\n    %s\n",
			i+1,
			chunk.SourceLocator,
			chunk.Index,
			score,
			preview(chunk, 120),
		)
	}
}

// preview はチャンク本文の先頭を1行で返す
func preview(chunk ingestion.Chunk, limit int) string {
	runes := []rune(chunk.Content)
	for i, r := range runes {
		if r == '\n' || r == '\r' || r == '\t' {
			runes[i] = ' '
		}
	}
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return string(runes)
}
