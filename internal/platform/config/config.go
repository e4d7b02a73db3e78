package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jinford/pdf-rag/internal/shared/apperr"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// パイプライン設定（YAMLで上書き可能）
	Pipeline PipelineConfig

	// OpenAI互換API設定（LLM + Embeddings）
	OpenAI OpenAIConfig

	// Embedding設定
	Embedding EmbeddingConfig

	// ベクトルストア: "memory" or "pgvector"
	VectorStore string

	// Database設定（pgvector使用時）
	Database DatabaseConfig

	// ログ設定
	Log LogConfig
}

// PipelineConfig は PDF 質問応答パイプラインの設定
type PipelineConfig struct {
	Model           string  `yaml:"model"`
	PDFDocument     string  `yaml:"pdfDocument"`
	ChunkSize       int     `yaml:"chunkSize"`
	ChunkOverlap    int     `yaml:"chunkOverlap"`
	Separator       string  `yaml:"separator"`
	SearchType      string  `yaml:"searchType"`
	KDocuments      int     `yaml:"kDocuments"`
	FetchK          int     `yaml:"fetchK"`
	MMRLambda       float64 `yaml:"mmrLambda"`
	DistanceMetric  string  `yaml:"distanceMetric"`
	PromptTemplate  string  `yaml:"promptTemplate"`
	MaxPromptTokens int     `yaml:"maxPromptTokens"` // 0 は無制限
	Temperature     float64 `yaml:"temperature"`
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string // Ollama などの互換エンドポイント
	EmbeddingModel     string
	EmbeddingDimension int
}

// EmbeddingConfig はインデックス構築時の Embedding 設定
type EmbeddingConfig struct {
	Provider    string // "openai" or "hash"
	BatchSize   int
	Concurrency int
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	env := &envReader{}
	cfg := &Config{
		Pipeline: PipelineConfig{
			Model:           env.get("PDFRAG_MODEL", "gpt-4o-mini"),
			PDFDocument:     env.get("PDFRAG_PDF_DOCUMENT", ""),
			ChunkSize:       env.getInt("PDFRAG_CHUNK_SIZE", 1000),
			ChunkOverlap:    env.getInt("PDFRAG_CHUNK_OVERLAP", 200),
			Separator:       env.getEscaped("PDFRAG_CHUNK_SEPARATOR", " "),
			SearchType:      env.get("PDFRAG_SEARCH_TYPE", "similarity"),
			KDocuments:      env.getInt("PDFRAG_K_DOCUMENTS", 4),
			FetchK:          env.getInt("PDFRAG_FETCH_K", 20),
			MMRLambda:       env.getFloat("PDFRAG_MMR_LAMBDA", 0.5),
			DistanceMetric:  env.get("PDFRAG_DISTANCE_METRIC", "cosine"),
			PromptTemplate:  env.get("PDFRAG_PROMPT_TEMPLATE", ""),
			MaxPromptTokens: env.getInt("PDFRAG_MAX_PROMPT_TOKENS", 0),
			Temperature:     env.getFloat("PDFRAG_TEMPERATURE", 0),
		},
		OpenAI: OpenAIConfig{
			APIKey:             env.get("OPENAI_API_KEY", ""),
			BaseURL:            env.get("OPENAI_BASE_URL", ""),
			EmbeddingModel:     env.get("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: env.getInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		},
		Embedding: EmbeddingConfig{
			Provider:    env.get("EMBEDDING_PROVIDER", "openai"),
			BatchSize:   env.getInt("EMBED_BATCH_SIZE", 100),
			Concurrency: env.getInt("EMBED_CONCURRENCY", 4),
		},
		VectorStore: env.get("VECTOR_STORE", "memory"),
		Database: DatabaseConfig{
			Host:     env.get("DB_HOST", "localhost"),
			Port:     env.getInt("DB_PORT", 5432),
			User:     env.get("DB_USER", "pdfrag"),
			Password: env.get("DB_PASSWORD", ""),
			DBName:   env.get("DB_NAME", "pdfrag"),
			SSLMode:  env.get("DB_SSLMODE", "disable"),
		},
		Log: LogConfig{
			Level:  env.get("LOG_LEVEL", "info"),
			Format: env.get("LOG_FORMAT", "text"),
		},
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyPipelineFile は YAML ファイルの値で Pipeline 設定を上書きする。
// ファイルに書かれていない項目は現在の値を保持する。
func (c *Config) ApplyPipelineFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperr.NewConfigError("pipeline", "failed to read %s: %v", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c.Pipeline); err != nil && !errors.Is(err, io.EOF) {
		return apperr.NewConfigError("pipeline", "failed to parse %s: %v", path, err)
	}
	return nil
}

// envReader は環境変数を読み、変換エラーを蓄積する
type envReader struct {
	errs []error
}

// get は環境変数を取得し、存在しない場合はデフォルト値を返します
func (r *envReader) get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEscaped は \n などのエスケープを解釈して取得します
func (r *envReader) getEscaped(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	unquoted, err := strconv.Unquote(`"` + value + `"`)
	if err != nil {
		return value
	}
	return unquoted
}

// getInt は環境変数を整数として取得します
func (r *envReader) getInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		r.errs = append(r.errs, apperr.NewConfigError(key, "not an integer: %q", valueStr))
		return defaultValue
	}
	return value
}

// getFloat は環境変数を浮動小数点数として取得します
func (r *envReader) getFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		r.errs = append(r.errs, apperr.NewConfigError(key, "not a number: %q", valueStr))
		return defaultValue
	}
	return value
}
