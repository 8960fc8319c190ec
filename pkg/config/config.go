// Package config loads and validates this service's YAML configuration: a
// layered loader (YAML + env-var expansion + mergo-based defaulting) with a
// typed ValidationError/LoadError taxonomy.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize.
type Config struct {
	configDir string

	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Job       JobConfig
	Outbox    OutboxConfig
	Rate      RateConfig
	Dedup     DedupConfig
	Embedding EmbeddingConfig
	SSRF      SSRFConfig
	Search    SearchConfig
	Notify    NotifyConfig
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// DatabaseConfig holds the Postgres connection pool settings.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	PasswordEnv     string        `yaml:"password_env"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// SchedulerConfig tunes the cron tick and worker pool size.
type SchedulerConfig struct {
	Workers      int           `yaml:"workers"`
	TickInterval time.Duration `yaml:"tick_interval"`
	DigestHour   int           `yaml:"digest_hour"`
}

// JobConfig tunes how the job processor claims and retries work.
// LockDuration and HandlerTimeout are independent knobs: LockDuration is
// how long a claimed row stays invisible to other workers, HandlerTimeout
// is how long a single handler invocation may run before it is canceled.
type JobConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BatchSize      int           `yaml:"batch_size"`
	LockDuration   time.Duration `yaml:"lock_duration"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
}

// OutboxConfig tunes webhook delivery: target gateway, signing secrets, and
// retry/backoff behavior.
type OutboxConfig struct {
	BaseURL        string        `yaml:"base_url"`
	HookTokenEnv   string        `yaml:"hook_token_env"`
	HMACSecretEnv  string        `yaml:"hmac_secret_env"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
	BatchSize      int           `yaml:"batch_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DrainInterval  time.Duration `yaml:"drain_interval"`
}

// RateConfig tunes the per-destination emission rate limiter.
type RateConfig struct {
	Window         time.Duration  `yaml:"window"`
	LimitByChannel map[string]int `yaml:"limit_by_channel"`
	DefaultLimit   int            `yaml:"default_limit"`
}

// DedupConfig tunes the emission dedup suppression window.
type DedupConfig struct {
	Window time.Duration `yaml:"window"`
}

// EmbeddingConfig selects the embedding provider backing hybrid search. The
// API key is named only indirectly, through the environment variable in
// APIKeyEnv; a direct key value, a key file path, and a key-producing
// sub-command are not supported.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// SSRFConfig lists CIDRs exempted from the outbox's private-network block.
type SSRFConfig struct {
	PrivateCIDRsAllow []string `yaml:"private_cidrs_allow"`
}

// SearchConfig holds hybrid search weights and keyword boost as loaded from
// YAML. It is not passed to pkg/search: the engine applies its own built-in
// default weights and boost, and only per-request weights override them.
type SearchConfig struct {
	VectorWeight float64 `yaml:"vector_weight"`
	TextWeight   float64 `yaml:"text_weight"`
	KeywordBoost float64 `yaml:"keyword_boost"`
}

// NotifyConfig configures the optional ops-alerting Slack integration
// (pkg/notify); entirely optional — notify.NewService returns nil without a
// token and channel.
type NotifyConfig struct {
	Enabled          bool   `yaml:"enabled"`
	TokenEnv         string `yaml:"token_env"`
	Channel          string `yaml:"channel"`
	BacklogThreshold int    `yaml:"backlog_threshold"`
}
