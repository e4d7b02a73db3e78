package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/urfave/cli/v3"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
)

// ChunksAction は PDF の読み込みと分割のみを行い、チャンク一覧を表示する
func ChunksAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}

	chunks, err := appCtx.Container.Chunks(ctx)
	if err != nil {
		appCtx.Logger().Error("チャンク分割に失敗しました", "error", err)
		return err
	}

	printChunks(os.Stdout, chunks)
	return nil
}

func printChunks(out io.Writer, chunks []ingestion.Chunk) {
	for i, chunk := range chunks {
		fmt.Fprintf(out, "%4d  page %-4s #%-3d %5d chars  %s\n",
			i,
			chunk.SourceLocator,
			chunk.Index,
			utf8.RuneCountInString(chunk.Content),
			preview(chunk, 60),
		)
	}
	fmt.Fprintf(out, "合計: %d チャンク\n", len(chunks))
}
