package ingestion

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

const (
	// DefaultChunkSize はチャンクの最大文字数のデフォルト値
	DefaultChunkSize = 1000
	// DefaultChunkOverlap はオーバーラップ文字数のデフォルト値
	DefaultChunkOverlap = 200
	// DefaultSeparator はトークン区切り文字のデフォルト値
	DefaultSeparator = " "
)

// Splitter は区切り文字を考慮した貪欲法で Document を固定長のチャンクに分割する。
// 長さはすべてルーン数で数える。
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separator    string
	newID        func() string
}

// SplitterOption は Splitter のオプション設定
type SplitterOption func(*Splitter)

// WithSeparator はトークン区切り文字を上書きする
func WithSeparator(sep string) SplitterOption {
	return func(s *Splitter) {
		s.separator = sep
	}
}

// WithIDGenerator はチャンクIDの生成関数を差し替える
func WithIDGenerator(fn func() string) SplitterOption {
	return func(s *Splitter) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewSplitter は新しい Splitter を作成する。
// chunkOverlap >= chunkSize の場合は ConfigError を返す。
func NewSplitter(chunkSize, chunkOverlap int, opts ...SplitterOption) (*Splitter, error) {
	s := &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separator:    DefaultSeparator,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := ValidateChunking(s.chunkSize, s.chunkOverlap, s.separator); err != nil {
		return nil, err
	}
	return s, nil
}

// ValidateChunking はチャンク設定を検証する
func ValidateChunking(chunkSize, chunkOverlap int, separator string) error {
	if chunkSize <= 0 {
		return apperr.NewConfigError("chunkSize", "must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return apperr.NewConfigError("chunkOverlap", "must be non-negative, got %d", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return apperr.NewConfigError("chunkOverlap", "must be smaller than chunkSize (%d >= %d)", chunkOverlap, chunkSize)
	}
	if separator == "" {
		return apperr.NewConfigError("separator", "must not be empty")
	}
	return nil
}

// ChunkSize は最大チャンク長を返す
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// ChunkOverlap はオーバーラップ長を返す
func (s *Splitter) ChunkOverlap() int { return s.chunkOverlap }

// Split は Document 列をチャンク列に分割する。
// 出力は Document 順、その中ではチャンク順に並ぶ。
func (s *Splitter) Split(docs []Document) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		for i, text := range s.SplitText(doc.Content) {
			metadata := copyMetadata(doc.Metadata)
			metadata[MetadataChunkIndex] = i
			chunks = append(chunks, Chunk{
				ID:            s.newID(),
				Content:       text,
				SourceLocator: doc.SourceLocator,
				Index:         i,
				Metadata:      metadata,
			})
		}
	}
	return chunks
}

// SplitText は1つのテキストをチャンク文字列に分割する
func (s *Splitter) SplitText(text string) []string {
	tokens := s.tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	sepLen := utf8.RuneCountInString(s.separator)

	var (
		chunks  []string
		current string
		curLen  int
		pending bool // current に前回の出力以降のトークンが含まれているか
	)

	for _, tok := range tokens {
		tokLen := utf8.RuneCountInString(tok)

		if pending && curLen+sepLen+tokLen > s.chunkSize {
			chunks = append(chunks, current)
			current = tailRunes(current, s.chunkOverlap)
			curLen = utf8.RuneCountInString(current)
			pending = false
		}

		switch {
		case current == "":
			current, curLen = tok, tokLen
		case curLen+sepLen+tokLen <= s.chunkSize:
			current += s.separator + tok
			curLen += sepLen + tokLen
		default:
			// オーバーラップとトークンが収まらない場合はオーバーラップを捨てる
			current, curLen = tok, tokLen
		}
		pending = true
	}

	if pending {
		chunks = append(chunks, current)
	}
	return chunks
}

func (s *Splitter) tokenize(text string) []string {
	if s.separator == DefaultSeparator {
		return strings.Fields(text)
	}

	parts := strings.Split(text, s.separator)
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// tailRunes は s の末尾 n ルーンを返す
func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := utf8.RuneCountInString(s)
	if n >= count {
		return s
	}
	skip := count - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}
