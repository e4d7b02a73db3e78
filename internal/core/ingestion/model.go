package ingestion

import (
	"context"
)

// メタデータキー
const (
	MetadataSource     = "source"
	MetadataPage       = "page"
	MetadataTotalPages = "total_pages"
	MetadataChunkIndex = "chunk_index"
)

// Document は読み込まれたソーステキストの1単位（PDFの1ページ）を表す
type Document struct {
	Content       string         // ページのテキスト
	SourceLocator string         // ページ番号など、出典を示す文字列
	Metadata      map[string]any // 任意のメタデータ
}

// Chunk は Document の内容を分割した部分文字列を表す
type Chunk struct {
	ID            string         // チャンク識別子（UUID）
	Content       string         // チャンクの内容
	SourceLocator string         // 親 Document の SourceLocator
	Index         int            // 親 Document 内での順序
	Metadata      map[string]any // 親 Document のメタデータのコピー
}

// Loader はファイルパスから Document 列を読み込むインターフェース
type Loader interface {
	// Load はページ順に Document を返す
	Load(ctx context.Context, path string) ([]Document, error)
}

func copyMetadata(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
