package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/pdf-rag/internal/core/qa"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// ChatAction は対話モードのアクション
func ChatAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, p, err := openPipeline(ctx, cmd)
	if err != nil {
		return err
	}
	defer p.Close(context.WithoutCancel(ctx))

	appCtx.Logger().Info("対話モードを開始", "pdf", appCtx.Config.Pipeline.PDFDocument)
	_, err = runChat(ctx, p, os.Stdin, os.Stdout, cmd.Bool("show-sources"))
	return err
}

// runChat は入力が尽きるか exit/quit まで質問を読み、回答を出力する。
// チェーンの失敗は表示して続行し、それ以外のエラーで終了する。
func runChat(ctx context.Context, asker Asker, in io.Reader, out io.Writer, showSources bool) (qa.History, error) {
	history := qa.NewHistory()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}

		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			return history, nil
		}

		answer, err := asker.Ask(ctx, qa.Query{Input: question, ChatHistory: history})
		if err != nil {
			var chainErr *apperr.ChainError
			if errors.As(err, &chainErr) && ctx.Err() == nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			return history, err
		}

		history = history.Append(answer.Turn())
		printAnswer(out, answer, showSources)
	}

	if err := scanner.Err(); err != nil {
		return history, fmt.Errorf("入力の読み込みに失敗: %w", err)
	}
	return history, nil
}
