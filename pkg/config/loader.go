package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the on-disk agentbackend.yaml structure. Every field
// is optional; anything left unset falls back to defaultConfig().
type yamlConfig struct {
	Database  *DatabaseConfig  `yaml:"database"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Job       *JobConfig       `yaml:"job"`
	Outbox    *OutboxConfig    `yaml:"outbox"`
	Rate      *RateConfig      `yaml:"rate"`
	Dedup     *DedupConfig     `yaml:"dedup"`
	Embedding *EmbeddingConfig `yaml:"embedding"`
	SSRF      *SSRFConfig      `yaml:"ssrf"`
	Search    *SearchConfig    `yaml:"search"`
	Notify    *NotifyConfig    `yaml:"notify"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load agentbackend.yaml from configDir (missing file is not an error)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user-defined configuration on top of built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized successfully",
		"scheduler_workers", cfg.Scheduler.Workers,
		"embedding_provider", cfg.Embedding.Provider)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	user, err := loader.loadAgentbackendYAML()
	if err != nil {
		return nil, NewLoadError("agentbackend.yaml", err)
	}

	cfg := defaultConfig()
	cfg.configDir = configDir

	if user.Database != nil {
		if err := mergo.Merge(&cfg.Database, user.Database, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge database config: %w", err)
		}
	}
	if user.Scheduler != nil {
		if err := mergo.Merge(&cfg.Scheduler, user.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
		}
	}
	if user.Job != nil {
		if err := mergo.Merge(&cfg.Job, user.Job, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge job config: %w", err)
		}
	}
	if user.Outbox != nil {
		if err := mergo.Merge(&cfg.Outbox, user.Outbox, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge outbox config: %w", err)
		}
	}
	if user.Rate != nil {
		if err := mergo.Merge(&cfg.Rate, user.Rate, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge rate config: %w", err)
		}
	}
	if user.Dedup != nil {
		if err := mergo.Merge(&cfg.Dedup, user.Dedup, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge dedup config: %w", err)
		}
	}
	if user.Embedding != nil {
		if err := mergo.Merge(&cfg.Embedding, user.Embedding, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge embedding config: %w", err)
		}
	}
	if user.SSRF != nil {
		if err := mergo.Merge(&cfg.SSRF, user.SSRF, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge ssrf config: %w", err)
		}
	}
	if user.Search != nil {
		if err := mergo.Merge(&cfg.Search, user.Search, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge search config: %w", err)
		}
	}
	if user.Notify != nil {
		if err := mergo.Merge(&cfg.Notify, user.Notify, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge notify config: %w", err)
		}
	}

	return cfg, nil
}

// defaultConfig returns the built-in defaults every loaded config is
// layered on top of.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "agentbackend",
			PasswordEnv:     "AGENTBACKEND_DB_PASSWORD",
			Database:        "agentbackend",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Workers:      4,
			TickInterval: 30 * time.Second,
			DigestHour:   8,
		},
		Job: JobConfig{
			MaxAttempts:    5,
			BatchSize:      20,
			LockDuration:   5 * time.Minute,
			HandlerTimeout: 30 * time.Second,
			BackoffBase:    30 * time.Second,
			BackoffCap:     1 * time.Hour,
		},
		Outbox: OutboxConfig{
			HookTokenEnv:   "AGENTBACKEND_HOOK_TOKEN",
			HMACSecretEnv:  "AGENTBACKEND_HMAC_SECRET",
			MaxAttempts:    8,
			BackoffBase:    30 * time.Second,
			BackoffCap:     1 * time.Hour,
			BatchSize:      20,
			RequestTimeout: 10 * time.Second,
			DrainInterval:  10 * time.Second,
		},
		Rate: RateConfig{
			Window:       1 * time.Hour,
			DefaultLimit: 10,
		},
		Dedup: DedupConfig{
			Window: 15 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:  "none",
			APIKeyEnv: "AGENTBACKEND_EMBEDDING_API_KEY",
			CacheTTL:  5 * time.Minute,
		},
		SSRF: SSRFConfig{
			PrivateCIDRsAllow: nil,
		},
		Search: SearchConfig{
			VectorWeight: 0.6,
			TextWeight:   0.4,
			KeywordBoost: 0.1,
		},
		Notify: NotifyConfig{
			Enabled:          false,
			TokenEnv:         "AGENTBACKEND_SLACK_TOKEN",
			BacklogThreshold: 100,
		},
	}
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	if cfg.Scheduler.Workers < 1 {
		return NewValidationError("scheduler", "workers", "workers", ErrInvalidValue)
	}
	if cfg.Scheduler.TickInterval <= 0 {
		return NewValidationError("scheduler", "tick_interval", "tick_interval", ErrInvalidValue)
	}
	if cfg.Job.MaxAttempts < 1 {
		return NewValidationError("job", "max_attempts", "max_attempts", ErrInvalidValue)
	}
	if cfg.Outbox.MaxAttempts < 1 {
		return NewValidationError("outbox", "max_attempts", "max_attempts", ErrInvalidValue)
	}
	if cfg.Outbox.BackoffCap < cfg.Outbox.BackoffBase {
		return NewValidationError("outbox", "backoff", "backoff_cap", ErrInvalidValue)
	}
	if cfg.Rate.Window <= 0 {
		return NewValidationError("rate", "window", "window", ErrInvalidValue)
	}
	if cfg.Dedup.Window <= 0 {
		return NewValidationError("dedup", "window", "window", ErrInvalidValue)
	}
	if cfg.Embedding.Provider != "none" && cfg.Embedding.Model == "" {
		return NewValidationError("embedding", cfg.Embedding.Provider, "model", ErrMissingRequiredField)
	}
	return nil
}

type configLoader struct {
	configDir string
}

// loadYAML reads filename from the configured directory, expands env vars,
// and unmarshals into target. A missing file is treated as "no overrides"
// rather than an error, since every key already has a built-in default.
func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAgentbackendYAML() (*yamlConfig, error) {
	var cfg yamlConfig
	if err := l.loadYAML("agentbackend.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
