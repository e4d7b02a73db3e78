package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/pdf-rag/internal/app/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "pdf-rag",
		Usage: "PDF を対象とした検索拡張生成（RAG）による質問応答",
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "質問に回答する（複数指定時は会話履歴を引き継いで順に実行）",
				ArgsUsage: "QUESTION...",
				Flags: append(pipelineFlags(),
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照したチャンクを表示",
					},
				),
				Action: appcli.AskAction,
			},
			{
				Name:  "chat",
				Usage: "標準入力から質問を読み込む対話モード（exit/quit で終了）",
				Flags: append(pipelineFlags(),
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照したチャンクを表示",
					},
				),
				Action: appcli.ChatAction,
			},
			{
				Name:   "chunks",
				Usage:  "PDF を読み込みチャンク分割結果を表示",
				Flags:  pipelineFlags(),
				Action: appcli.ChunksAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// pipelineFlags は各コマンド共通のフラグ
func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:  "pipeline",
			Usage: "パイプライン設定YAMLファイルパス",
		},
		&cli.StringFlag{
			Name:  "pdf",
			Usage: "対象のPDFファイルパス（PDFRAG_PDF_DOCUMENT を上書き）",
		},
		&cli.IntFlag{
			Name:  "k",
			Usage: "取得するチャンク数",
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "チャンクの最大文字数",
		},
		&cli.IntFlag{
			Name:  "chunk-overlap",
			Usage: "チャンク間のオーバーラップ文字数",
		},
		&cli.StringFlag{
			Name:  "search-type",
			Usage: "検索方式 (similarity/mmr)",
		},
	}
}
