package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/pdf-rag/internal/core/qa"
)

// AskAction は質問応答コマンドのアクション。
// 引数の各質問を順に実行し、会話履歴を引き継ぐ。
func AskAction(ctx context.Context, cmd *cli.Command) error {
	questions := cmd.Args().Slice()
	if len(questions) == 0 {
		return fmt.Errorf("質問文を指定してください")
	}
	showSources := cmd.Bool("show-sources")

	appCtx, p, err := openPipeline(ctx, cmd)
	if err != nil {
		return err
	}
	defer p.Close(context.WithoutCancel(ctx))

	logger := appCtx.Logger()
	logger.Info("質問応答を開始", "questions", len(questions), "showSources", showSources)

	if _, err := askQuestions(ctx, p, questions, os.Stdout, showSources); err != nil {
		logger.Error("質問応答に失敗しました", "error", err)
		return err
	}

	logger.Info("質問応答が完了しました")
	return nil
}

// askQuestions は質問を順に実行し、回答ごとに履歴へターンを追加する
func askQuestions(ctx context.Context, asker Asker, questions []string, out io.Writer, showSources bool) (qa.History, error) {
	history := qa.NewHistory()
	for i, question := range questions {
		answer, err := asker.Ask(ctx, qa.Query{Input: question, ChatHistory: history})
		if err != nil {
			return history, fmt.Errorf("質問 %d の回答に失敗: %w", i+1, err)
		}
		history = history.Append(answer.Turn())

		if len(questions) > 1 {
			fmt.Fprintf(out, "Q%d: %s\n", i+1, question)
		}
		printAnswer(out, answer, showSources)
		if i < len(questions)-1 {
			fmt.Fprintln(out)
		}
	}
	return history, nil
}
