// Package config loads ragkb configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

type Config struct {
	DBPath   string `envconfig:"RAGKB_DB_PATH" default:".ragkb/knowledge.db"`
	LogLevel string `envconfig:"RAGKB_LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"RAGKB_LOG_JSON" default:"false"`

	// Embedding
	EmbeddingProvider  string        `envconfig:"RAGKB_EMBEDDING_PROVIDER" default:"local"`
	EmbeddingModel     string        `envconfig:"RAGKB_EMBEDDING_MODEL"`
	EmbeddingAPIKey    string        `envconfig:"RAGKB_EMBEDDING_API_KEY"`
	EmbeddingBaseURL   string        `envconfig:"RAGKB_EMBEDDING_BASE_URL"`
	EmbeddingDimension int           `envconfig:"RAGKB_EMBEDDING_DIMENSION" default:"0"`
	EmbeddingRPS       float64       `envconfig:"RAGKB_EMBEDDING_RPS" default:"0"`
	EmbeddingTimeout   time.Duration `envconfig:"RAGKB_EMBEDDING_TIMEOUT" default:"30s"`
	EmbeddingCacheSize int           `envconfig:"RAGKB_EMBEDDING_CACHE_SIZE" default:"1000"`

	// Vector store
	VectorBackend  string        `envconfig:"RAGKB_VECTOR_BACKEND" default:"sqlite"`
	WeaviateHost   string        `envconfig:"RAGKB_WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string        `envconfig:"RAGKB_WEAVIATE_SCHEME" default:"http"`
	WeaviateClass  string        `envconfig:"RAGKB_WEAVIATE_CLASS" default:"KnowledgeChunk"`
	StoreTimeout   time.Duration `envconfig:"RAGKB_STORE_TIMEOUT" default:"15s"`

	// Chunking. Zero sizes select the profile of the detected document type.
	ChunkSize        int  `envconfig:"RAGKB_CHUNK_SIZE" default:"0"`
	MinChunkSize     int  `envconfig:"RAGKB_MIN_CHUNK_SIZE" default:"0"`
	ChunkOverlap     int  `envconfig:"RAGKB_CHUNK_OVERLAP" default:"0"`
	SemanticChunking bool `envconfig:"RAGKB_SEMANTIC_CHUNKING" default:"true"`

	// Ingestion
	BatchSize     int      `envconfig:"RAGKB_BATCH_SIZE" default:"16"`
	FileDelayMs   int      `envconfig:"RAGKB_FILE_DELAY_MS" default:"0"`
	MaxFileSizeMB int      `envconfig:"RAGKB_MAX_FILE_SIZE_MB" default:"50"`
	Excludes      []string `envconfig:"RAGKB_EXCLUDES"`

	// Memory governor
	MemoryWarningThreshold  float64       `envconfig:"RAGKB_MEMORY_WARNING_THRESHOLD" default:"0.75"`
	MemoryCriticalThreshold float64       `envconfig:"RAGKB_MEMORY_CRITICAL_THRESHOLD" default:"0.90"`
	MaxHeapMB               int           `envconfig:"RAGKB_MAX_HEAP_MB" default:"0"`
	MemoryBudgetMB          int           `envconfig:"RAGKB_MEMORY_BUDGET_MB" default:"64"`
	MemoryWait              time.Duration `envconfig:"RAGKB_MEMORY_WAIT" default:"30s"`
	MemoryPoll              time.Duration `envconfig:"RAGKB_MEMORY_POLL" default:"500ms"`
	OOMBackoff              time.Duration `envconfig:"RAGKB_OOM_BACKOFF" default:"10s"`

	// Retrieval
	TopK           int     `envconfig:"RAGKB_TOP_K" default:"5"`
	ScoreThreshold float64 `envconfig:"RAGKB_SCORE_THRESHOLD" default:"0.3"`
	MinQueryLength int     `envconfig:"RAGKB_MIN_QUERY_LENGTH" default:"2"`
}

// Load reads .env files (if any) and then the process environment.
func Load() (*Config, error) {
	// Missing .env files are fine, variables may come from the shell.
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".ragkb", ".env"))
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("%w: RAGKB_DB_PATH", ErrMissingRequired)
	}

	switch c.EmbeddingProvider {
	case "local":
	case "openai", "jina", "gemini":
		if c.EmbeddingAPIKey == "" {
			return fmt.Errorf("%w: RAGKB_EMBEDDING_API_KEY for provider %s", ErrMissingRequired, c.EmbeddingProvider)
		}
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.EmbeddingProvider)
	}

	switch c.VectorBackend {
	case "sqlite":
	case "weaviate":
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: RAGKB_WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown vector backend %q", ErrInvalidConfig, c.VectorBackend)
	}

	if c.ChunkSize < 0 || c.MinChunkSize < 0 || c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk sizes must not be negative", ErrInvalidConfig)
	}
	if c.ChunkSize > 0 && c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	}
	if c.ChunkSize > 0 && c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("%w: min chunk size %d exceeds chunk size %d", ErrInvalidConfig, c.MinChunkSize, c.ChunkSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.MemoryWarningThreshold <= 0 || c.MemoryCriticalThreshold > 1 ||
		c.MemoryWarningThreshold >= c.MemoryCriticalThreshold {
		return fmt.Errorf("%w: memory thresholds must satisfy 0 < warning < critical <= 1", ErrInvalidConfig)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top k must be positive", ErrInvalidConfig)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("%w: score threshold must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// FileDelay returns the configured inter-file pause.
func (c *Config) FileDelay() time.Duration {
	return time.Duration(c.FileDelayMs) * time.Millisecond
}

// MaxFileSizeBytes returns the per-file size limit, 0 meaning unlimited.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// MaxHeapBytes returns the configured heap ceiling, 0 meaning auto.
func (c *Config) MaxHeapBytes() uint64 {
	return uint64(c.MaxHeapMB) * 1024 * 1024
}

// MemoryBudgetBytes returns the in-flight chunk buffer budget.
func (c *Config) MemoryBudgetBytes() int64 {
	return int64(c.MemoryBudgetMB) * 1024 * 1024
}
