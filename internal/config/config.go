package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultPrimaryProvider     = "openai"
	DefaultQueueConcurrency    = 2
	DefaultQueueTimeoutMs      = 120000
	DefaultMaxOutputTokens     = 1024
	DefaultTemperature         = 0.7
	DefaultEmbeddingModel      = "text-embedding-3-small"
	DefaultEmbeddingTimeoutMs  = 10000
	DefaultMemoryRetentionDays = 30
	DefaultMemoryMaxEntries    = 200
	DefaultSimilarityThreshold = 0.75
)

type Config struct {
	AI        AIConfig        `json:"ai"`
	Providers ProvidersConfig `json:"providers"`
	Queue     QueueConfig     `json:"queue"`
	Embedding EmbeddingConfig `json:"embedding"`
	Memory    MemoryConfig    `json:"memory"`
	Cost      CostConfig      `json:"cost"`
}

type AIConfig struct {
	Enabled         bool   `json:"enabled"`
	PrimaryProvider string `json:"primaryProvider,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
	Gemini    ProviderConfig `json:"gemini"`
}

type QueueConfig struct {
	Concurrency int `json:"concurrency"`
	TimeoutMs   int `json:"timeoutMs"`
}

type EmbeddingConfig struct {
	Enabled   bool   `json:"enabled"`
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type MemoryConfig struct {
	DBPath              string  `json:"dbPath,omitempty"`
	RetentionDays       int     `json:"retentionDays"`
	MaxEntries          int     `json:"maxEntries"`
	SimilarityThreshold float64 `json:"similarityThreshold"`
}

// CostRate is a per-1K-token price pair in a currency-agnostic unit.
type CostRate struct {
	InputPer1K  float64 `json:"inputPer1k"`
	OutputPer1K float64 `json:"outputPer1k"`
}

type CostConfig struct {
	Rates    map[string]CostRate `json:"rates,omitempty"`
	Fallback CostRate            `json:"fallback"`
}

// Rate resolves the cost rate for a provider, falling back to the global rate.
func (c CostConfig) Rate(provider string) CostRate {
	if rate, ok := c.Rates[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return rate
	}
	return c.Fallback
}

func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Enabled:         true,
			PrimaryProvider: DefaultPrimaryProvider,
		},
		Queue: QueueConfig{
			Concurrency: DefaultQueueConcurrency,
			TimeoutMs:   DefaultQueueTimeoutMs,
		},
		Embedding: EmbeddingConfig{
			Model:     DefaultEmbeddingModel,
			TimeoutMs: DefaultEmbeddingTimeoutMs,
		},
		Memory: MemoryConfig{
			DBPath:              filepath.Join(ConfigDir(), "data", "aigate.db"),
			RetentionDays:       DefaultMemoryRetentionDays,
			MaxEntries:          DefaultMemoryMaxEntries,
			SimilarityThreshold: DefaultSimilarityThreshold,
		},
		Cost: CostConfig{},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".aigate")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// LoadFile reads the config at path (ConfigPath() when empty), applies
// environment overrides, and fills defaults for anything left unset.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AIGATE_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.AI.Enabled = parsed
		}
	}
	if v := os.Getenv("AIGATE_PRIMARY_PROVIDER"); v != "" {
		cfg.AI.PrimaryProvider = v
	}

	if key := os.Getenv("AIGATE_OPENAI_API_KEY"); key != "" {
		cfg.Providers.OpenAI.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = key
	}
	if url := os.Getenv("AIGATE_OPENAI_BASE_URL"); url != "" {
		cfg.Providers.OpenAI.BaseURL = url
	}
	if model := os.Getenv("AIGATE_OPENAI_MODEL"); model != "" {
		cfg.Providers.OpenAI.Model = model
	}

	if key := os.Getenv("AIGATE_ANTHROPIC_API_KEY"); key != "" {
		cfg.Providers.Anthropic.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = key
	}
	if url := os.Getenv("AIGATE_ANTHROPIC_BASE_URL"); url != "" {
		cfg.Providers.Anthropic.BaseURL = url
	}
	if model := os.Getenv("AIGATE_ANTHROPIC_MODEL"); model != "" {
		cfg.Providers.Anthropic.Model = model
	}

	if key := os.Getenv("AIGATE_GEMINI_API_KEY"); key != "" {
		cfg.Providers.Gemini.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.Providers.Gemini.APIKey == "" {
		cfg.Providers.Gemini.APIKey = key
	}
	if url := os.Getenv("AIGATE_GEMINI_BASE_URL"); url != "" {
		cfg.Providers.Gemini.BaseURL = url
	}
	if model := os.Getenv("AIGATE_GEMINI_MODEL"); model != "" {
		cfg.Providers.Gemini.Model = model
	}

	if v := os.Getenv("AIGATE_QUEUE_CONCURRENCY"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Concurrency = parsed
		}
	}
	if v := os.Getenv("AIGATE_QUEUE_TIMEOUT_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Queue.TimeoutMs = parsed
		}
	}

	if v := os.Getenv("AIGATE_EMBEDDINGS_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Embedding.Enabled = parsed
		}
	}
	if model := os.Getenv("AIGATE_EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if key := os.Getenv("AIGATE_EMBEDDING_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if url := os.Getenv("AIGATE_EMBEDDING_BASE_URL"); url != "" {
		cfg.Embedding.BaseURL = url
	}

	if dbPath := os.Getenv("AIGATE_MEMORY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if v := os.Getenv("AIGATE_MEMORY_RETENTION_DAYS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Memory.RetentionDays = parsed
		}
	}
	if v := os.Getenv("AIGATE_MEMORY_MAX_ENTRIES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Memory.MaxEntries = parsed
		}
	}

	if v := os.Getenv("AIGATE_COST_FALLBACK_INPUT"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.Fallback.InputPer1K = parsed
		}
	}
	if v := os.Getenv("AIGATE_COST_FALLBACK_OUTPUT"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.Fallback.OutputPer1K = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.AI.PrimaryProvider) == "" {
		cfg.AI.PrimaryProvider = DefaultPrimaryProvider
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = DefaultQueueConcurrency
	}
	if cfg.Queue.TimeoutMs < 0 {
		cfg.Queue.TimeoutMs = 0
	}
	if strings.TrimSpace(cfg.Embedding.Model) == "" {
		cfg.Embedding.Model = DefaultEmbeddingModel
	}
	if cfg.Embedding.TimeoutMs <= 0 {
		cfg.Embedding.TimeoutMs = DefaultEmbeddingTimeoutMs
	}
	if strings.TrimSpace(cfg.Memory.DBPath) == "" {
		cfg.Memory.DBPath = filepath.Join(ConfigDir(), "data", "aigate.db")
	}
	if cfg.Memory.RetentionDays <= 0 {
		cfg.Memory.RetentionDays = DefaultMemoryRetentionDays
	}
	if cfg.Memory.MaxEntries <= 0 {
		cfg.Memory.MaxEntries = DefaultMemoryMaxEntries
	}
	if cfg.Memory.SimilarityThreshold <= 0 {
		cfg.Memory.SimilarityThreshold = DefaultSimilarityThreshold
	}
}

func SaveFile(path string, cfg *Config) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
