package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Backend   BackendConfig
	Augment   AugmentConfig
	Collector CollectorConfig
	History   HistoryConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type BackendConfig struct {
	URL          string
	DefaultModel string
	EmbedModel   string
	EmbedDim     int
}

type AugmentConfig struct {
	Default         bool // augment requests on non-/agent routes
	TopK            int
	SnippetMaxChars int
	ContextBudget   int // token budget for the rendered prompt
	EmbedCacheSize  int
}

type CollectorConfig struct {
	QueueSize  int
	Workers    int
	MaxRetries int
}

type HistoryConfig struct {
	Size int
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	embedDim, err := getEnvInt("EMBED_DIM", 768)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBED_DIM: %w", err)
	}

	topK, err := getEnvInt("AUGMENT_TOP_K", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid AUGMENT_TOP_K: %w", err)
	}

	snippetMax, err := getEnvInt("AUGMENT_SNIPPET_MAX_CHARS", 600)
	if err != nil {
		return nil, fmt.Errorf("invalid AUGMENT_SNIPPET_MAX_CHARS: %w", err)
	}

	budget, err := getEnvInt("CONTEXT_BUDGET_TOKENS", 4096)
	if err != nil {
		return nil, fmt.Errorf("invalid CONTEXT_BUDGET_TOKENS: %w", err)
	}

	cacheSize, err := getEnvInt("AUGMENT_EMBED_CACHE", 512)
	if err != nil {
		return nil, fmt.Errorf("invalid AUGMENT_EMBED_CACHE: %w", err)
	}

	queueSize, err := getEnvInt("COLLECTOR_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("invalid COLLECTOR_QUEUE_SIZE: %w", err)
	}

	workers, err := getEnvInt("COLLECTOR_WORKERS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid COLLECTOR_WORKERS: %w", err)
	}

	maxRetries, err := getEnvInt("COLLECTOR_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid COLLECTOR_MAX_RETRIES: %w", err)
	}

	historySize, err := getEnvInt("HISTORY_SIZE", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid HISTORY_SIZE: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: maxConns,
			MinConns: minConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Backend: BackendConfig{
			URL:          getEnv("OLLAMA_URL", "http://localhost:11434"),
			DefaultModel: getEnv("DEFAULT_MODEL", "llama3"),
			EmbedModel:   getEnv("EMBED_MODEL", "nomic-embed-text"),
			EmbedDim:     embedDim,
		},
		Augment: AugmentConfig{
			Default:         getEnvBool("AUGMENT_DEFAULT", false),
			TopK:            topK,
			SnippetMaxChars: snippetMax,
			ContextBudget:   budget,
			EmbedCacheSize:  cacheSize,
		},
		Collector: CollectorConfig{
			QueueSize:  queueSize,
			Workers:    workers,
			MaxRetries: maxRetries,
		},
		History: HistoryConfig{
			Size: historySize,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Backend.URL == "" {
		missing = append(missing, "OLLAMA_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Collector.QueueSize <= 0 {
		return fmt.Errorf("COLLECTOR_QUEUE_SIZE must be positive")
	}
	if c.Backend.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
