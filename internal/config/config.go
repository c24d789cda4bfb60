package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

var openAIKeyPattern = regexp.MustCompile(`^sk-[A-Za-z0-9_-]{32,}$`)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	Store       string `envconfig:"STORE" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	OpenAIAPIKey        string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-ada-002"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingMaxInput   int           `envconfig:"EMBEDDING_MAX_INPUT_CHARS" default:"2000"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	EmbeddingRateLimit  float64       `envconfig:"EMBEDDING_RATE_LIMIT" default:"0"`

	ChunkMaxLength    int `envconfig:"CHUNK_MAX_LENGTH" default:"500"`
	IngestConcurrency int `envconfig:"INGEST_CONCURRENCY" default:"1"`

	SentryDSN string `envconfig:"SENTRY_DSN"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("KBCORE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("KBCORE_DATABASE_URL is required when KBCORE_STORE=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("KBCORE_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("KBCORE_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.ChunkMaxLength <= 0 {
		return fmt.Errorf("KBCORE_CHUNK_MAX_LENGTH must be positive")
	}
	if c.IngestConcurrency <= 0 {
		return fmt.Errorf("KBCORE_INGEST_CONCURRENCY must be positive")
	}
	return nil
}

func (c *Config) UsesPostgres() bool {
	return c.Store == StorePostgres
}

// HasOpenAI reports whether a well-formed OpenAI key is configured.
func (c *Config) HasOpenAI() bool {
	return ValidOpenAIKey(c.OpenAIAPIKey)
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// ValidOpenAIKey checks the sk- key format. It does not contact the API.
func ValidOpenAIKey(key string) bool {
	return openAIKeyPattern.MatchString(key)
}
