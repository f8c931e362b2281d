package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the evaluation core.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Worker    WorkerConfig    `yaml:"worker"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Queue     QueueConfig     `yaml:"queue"`
}

// LLMConfig controls the LLM Client.
type LLMConfig struct {
	APIKey            string        `yaml:"apiKey"`
	Provider          string        `yaml:"provider"` // "" = autodetect, else "provider-a" | "provider-b"
	BaseURL           string        `yaml:"baseUrl"`
	Model             string        `yaml:"model"`
	EmbeddingModel    string        `yaml:"embeddingModel"`
	Temperature       float32       `yaml:"temperature"`
	MaxTokens         int           `yaml:"maxTokens"`
	Referer           string        `yaml:"referer"`
	AppName           string        `yaml:"appName"`
	RetryAttempts     int           `yaml:"retryAttempts"`
	RetryBaseDelay    time.Duration `yaml:"retryBaseDelay"`
	ChatTimeout       time.Duration `yaml:"chatTimeout"`
	EmbeddingsTimeout time.Duration `yaml:"embeddingsTimeout"`
	MaxConcurrency    int           `yaml:"maxConcurrency"`
}

// RetrievalConfig controls the Retrieval Index.
type RetrievalConfig struct {
	VectorDim      int           `yaml:"vectorDim"`
	ChunkTargetLen int           `yaml:"chunkTargetLen"`
	ChunkOverlap   int           `yaml:"chunkOverlap"`
	MinChunkLen    int           `yaml:"minChunkLen"`
	SearchTimeout  time.Duration `yaml:"searchTimeout"`
	MaxResults     int           `yaml:"maxResults"`
	Threshold      float64       `yaml:"threshold"`
}

// WorkerConfig controls the dispatcher/worker pool.
type WorkerConfig struct {
	PoolSize        int           `yaml:"poolSize"`
	JobStoreTimeout time.Duration `yaml:"jobStoreTimeout"`
}

// PostgresConfig contains DSN and pooling settings for the Job Store and Retrieval Index.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// QueueConfig configures the durable work queue.
type QueueConfig struct {
	Addr     string `yaml:"addr"`
	Key      string `yaml:"key"`
	InMemory bool   `yaml:"inMemory"`
}

// Load reads configuration from an optional YAML file and environment overrides.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(parsed)
		}
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = parsed
		}
	}
	if v := os.Getenv("LLM_REFERER"); v != "" {
		cfg.LLM.Referer = v
	}
	if v := os.Getenv("LLM_APP_NAME"); v != "" {
		cfg.LLM.AppName = v
	}
	if v := os.Getenv("LLM_RETRY_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.LLM.RetryAttempts = parsed
		}
	}
	if v := os.Getenv("LLM_RETRY_BASE_DELAY"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.LLM.RetryBaseDelay = parsed
		}
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Worker.PoolSize = parsed
		}
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("QUEUE_ADDR"); v != "" {
		cfg.Queue.Addr = v
	}
	if v := os.Getenv("QUEUE_KEY"); v != "" {
		cfg.Queue.Key = v
	}
	if v := os.Getenv("QUEUE_IN_MEMORY"); v != "" {
		cfg.Queue.InMemory = v == "1" || strings.EqualFold(v, "true")
	}
}

func defaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			EmbeddingModel:    "text-embedding-3-small",
			Temperature:       0.3,
			MaxTokens:         2000,
			RetryAttempts:     3,
			RetryBaseDelay:    time.Second,
			ChatTimeout:       60 * time.Second,
			EmbeddingsTimeout: 30 * time.Second,
			MaxConcurrency:    8,
		},
		Retrieval: RetrievalConfig{
			VectorDim:      128,
			ChunkTargetLen: 1000,
			ChunkOverlap:   200,
			MinChunkLen:    50,
			SearchTimeout:  10 * time.Second,
			MaxResults:     5,
			Threshold:      0.2,
		},
		Worker: WorkerConfig{
			PoolSize:        3,
			JobStoreTimeout: 5 * time.Second,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Queue: QueueConfig{
			Key:      "evaluator:jobs",
			InMemory: true,
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model cannot be empty")
	}
	if strings.TrimSpace(c.LLM.EmbeddingModel) == "" {
		return errors.New("llm.embeddingModel cannot be empty")
	}
	if c.LLM.RetryAttempts <= 0 {
		return errors.New("llm.retryAttempts must be positive")
	}
	if c.LLM.RetryBaseDelay <= 0 {
		return errors.New("llm.retryBaseDelay must be positive")
	}
	if c.Retrieval.VectorDim <= 0 {
		return errors.New("retrieval.vectorDim must be positive")
	}
	if c.Retrieval.ChunkTargetLen <= 0 {
		return errors.New("retrieval.chunkTargetLen must be positive")
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkTargetLen {
		return errors.New("retrieval.chunkOverlap must be non-negative and smaller than chunkTargetLen")
	}
	if c.Worker.PoolSize <= 0 {
		return errors.New("worker.poolSize must be positive")
	}
	if !c.Queue.InMemory && strings.TrimSpace(c.Queue.Addr) == "" {
		return errors.New("queue.addr cannot be empty unless queue.inMemory is set")
	}
	return nil
}
