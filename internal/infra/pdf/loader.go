package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/jinford/pdf-rag/internal/core/ingestion"
	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// ErrNoPages はページを1つも含まない PDF のエラー
var ErrNoPages = errors.New("pdf has no pages")

// Loader は PDF をページ単位の Document に変換する
type Loader struct {
	logger *slog.Logger
}

// LoaderOption は Loader のオプション設定
type LoaderOption func(*Loader)

// WithLoaderLogger はロガーを設定する
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader は新しい Loader を作成する
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Load は path の PDF を読み込み、ページ順に1ページ1 Document を返す。
// テキストが空のページも Document として含める。
func (l *Loader) Load(ctx context.Context, path string) (docs []ingestion.Document, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &apperr.LoadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &apperr.LoadError{Path: path, Err: errors.New("path is a directory")}
	}

	// パーサは壊れた入力で panic することがある
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = &apperr.LoadError{Path: path, Err: fmt.Errorf("pdf parser panic: %v", r)}
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, &apperr.LoadError{Path: path, Err: err}
	}
	defer f.Close()

	total := reader.NumPage()
	if total == 0 {
		return nil, &apperr.LoadError{Path: path, Err: ErrNoPages}
	}

	docs = make([]ingestion.Document, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var text string
		page := reader.Page(i)
		if !page.V.IsNull() {
			text, err = page.GetPlainText(nil)
			if err != nil {
				return nil, &apperr.LoadError{Path: path, Err: fmt.Errorf("failed to extract page %d: %w", i, err)}
			}
		}

		docs = append(docs, ingestion.Document{
			Content:       text,
			SourceLocator: strconv.Itoa(i),
			Metadata: map[string]any{
				ingestion.MetadataSource:     path,
				ingestion.MetadataPage:       i,
				ingestion.MetadataTotalPages: total,
			},
		})
	}

	l.logger.Debug("pdf loaded", "path", path, "pages", total)
	return docs, nil
}

var _ ingestion.Loader = (*Loader)(nil)
