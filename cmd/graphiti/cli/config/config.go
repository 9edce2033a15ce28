// Package config loads the LLM transport configuration from
// ~/.graphiti/llm.toml. Every field has a typed default; a missing file
// yields pure defaults, so load -> save -> load is a fixed point.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Environment overrides. These beat the file on every load.
const (
	EnvAPIKey        = "OLLAMA_API_KEY"
	EnvCloudEndpoint = "OLLAMA_CLOUD_ENDPOINT"
	EnvLocalEndpoint = "OLLAMA_LOCAL_ENDPOINT"
)

// Config is the parsed llm.toml.
type Config struct {
	Cloud      CloudConfig      `toml:"cloud"`
	Local      LocalConfig      `toml:"local"`
	Embeddings EmbeddingsConfig `toml:"embeddings"`
	Retry      RetryConfig      `toml:"retry"`
	Timeout    TimeoutConfig    `toml:"timeout"`
	Quota      QuotaConfig      `toml:"quota"`
	Logging    LoggingConfig    `toml:"logging"`
	Queue      QueueConfig      `toml:"queue"`
	Reranking  RerankingConfig  `toml:"reranking"`
}

// CloudConfig describes the primary endpoint.
type CloudConfig struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
}

// LocalConfig describes the fallback endpoint.
type LocalConfig struct {
	Endpoint string `toml:"endpoint"`
	// AutoStart is declared but reserved; nothing starts the local
	// server today.
	AutoStart bool `toml:"auto_start"`
	// FallbackModels is the preference chain; the largest available
	// model wins (highest "<N>b" suffix).
	FallbackModels []string `toml:"fallback_models"`
}

// EmbeddingsConfig selects the embedding model. Embeddings always route
// to the local endpoint.
type EmbeddingsConfig struct {
	Model string `toml:"model"`
}

// RetryConfig controls cloud retry and cooldown behavior.
type RetryConfig struct {
	// MaxAttempts counts the initial try: 3 = 1 initial + 2 retries.
	MaxAttempts     int `toml:"max_attempts"`
	DelaySeconds    int `toml:"delay_seconds"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

// TimeoutConfig sets per-attempt HTTP timeouts.
type TimeoutConfig struct {
	ConnectCloudSeconds int `toml:"connect_cloud_seconds"`
	ConnectLocalSeconds int `toml:"connect_local_seconds"`
	ReadSeconds         int `toml:"read_seconds"`
}

// QuotaConfig tracks cloud usage limits. Exceeding the limit logs a
// warning and routes to local; it is never fatal.
type QuotaConfig struct {
	DailyRequestLimit int `toml:"daily_request_limit"`
}

// LoggingConfig sets the default log level (GRAPHITI_LOG_LEVEL wins).
type LoggingConfig struct {
	Level string `toml:"level"`
}

// QueueConfig bounds the failed-request queue and the job queue.
type QueueConfig struct {
	MaxItems   int `toml:"max_items"`
	TTLHours   int `toml:"ttl_hours"`
	JobSoftCap int `toml:"job_soft_cap"`
	MaxRetries int `toml:"max_retries"`
	Workers    int `toml:"workers"`
}

// RerankingConfig is parsed but has no consumer; the section is reserved.
type RerankingConfig struct {
	Enabled bool   `toml:"enabled"`
	Model   string `toml:"model"`
}

// Default returns the configuration with every field at its typed default.
func Default() *Config {
	return &Config{
		Cloud: CloudConfig{
			Endpoint: "https://ollama.com",
			Model:    "gpt-oss:120b",
		},
		Local: LocalConfig{
			Endpoint:       "http://localhost:11434",
			FallbackModels: []string{"qwen3:8b", "llama3.1:8b", "qwen3:4b", "llama3.2:3b"},
		},
		Embeddings: EmbeddingsConfig{
			Model: "nomic-embed-text",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			DelaySeconds:    10,
			CooldownSeconds: 600,
		},
		Timeout: TimeoutConfig{
			ConnectCloudSeconds: 5,
			ConnectLocalSeconds: 2,
			ReadSeconds:         180,
		},
		Quota: QuotaConfig{
			DailyRequestLimit: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Queue: QueueConfig{
			MaxItems:   1000,
			TTLHours:   24,
			JobSoftCap: 100,
			MaxRetries: 3,
			Workers:    4,
		},
	}
}

// Load reads the config at path, applies defaults for absent fields, then
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes the config as TOML, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Cloud.APIKey = v
	}
	if v := os.Getenv(EnvCloudEndpoint); v != "" {
		cfg.Cloud.Endpoint = v
	}
	if v := os.Getenv(EnvLocalEndpoint); v != "" {
		cfg.Local.Endpoint = v
	}
}

// applyDefaults restores typed defaults for fields an explicit file set to
// zero values that have no meaning (a zero timeout would hang forever).
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.Retry.DelaySeconds <= 0 {
		cfg.Retry.DelaySeconds = def.Retry.DelaySeconds
	}
	if cfg.Retry.CooldownSeconds <= 0 {
		cfg.Retry.CooldownSeconds = def.Retry.CooldownSeconds
	}
	if cfg.Timeout.ConnectCloudSeconds <= 0 {
		cfg.Timeout.ConnectCloudSeconds = def.Timeout.ConnectCloudSeconds
	}
	if cfg.Timeout.ConnectLocalSeconds <= 0 {
		cfg.Timeout.ConnectLocalSeconds = def.Timeout.ConnectLocalSeconds
	}
	if cfg.Timeout.ReadSeconds <= 0 {
		cfg.Timeout.ReadSeconds = def.Timeout.ReadSeconds
	}
	if cfg.Queue.MaxItems <= 0 {
		cfg.Queue.MaxItems = def.Queue.MaxItems
	}
	if cfg.Queue.TTLHours <= 0 {
		cfg.Queue.TTLHours = def.Queue.TTLHours
	}
	if cfg.Queue.JobSoftCap <= 0 {
		cfg.Queue.JobSoftCap = def.Queue.JobSoftCap
	}
	if cfg.Queue.MaxRetries <= 0 {
		cfg.Queue.MaxRetries = def.Queue.MaxRetries
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = def.Queue.Workers
	}
	if cfg.Local.Endpoint == "" {
		cfg.Local.Endpoint = def.Local.Endpoint
	}
	if cfg.Cloud.Endpoint == "" {
		cfg.Cloud.Endpoint = def.Cloud.Endpoint
	}
	if len(cfg.Local.FallbackModels) == 0 {
		cfg.Local.FallbackModels = def.Local.FallbackModels
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = def.Embeddings.Model
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}
