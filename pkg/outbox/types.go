// Package outbox implements the durable webhook delivery pipeline: enqueue
// inserts a row (no-op on duplicate idempotency key), and the delivery
// worker drains due rows, signs them, and POSTs them to an agent gateway
// with exponential backoff and SSRF protection.
package outbox

import "time"

// Config tunes delivery behavior.
type Config struct {
	BaseURL       string
	Secret        string
	BearerToken   string
	BatchSize     int
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	RequestTimeout time.Duration
	SSRF          SSRFConfig
}

// SSRFConfig lists CIDRs exempted from the destination-host block list.
type SSRFConfig struct {
	AllowedCIDRs []string
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 12
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = time.Hour
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}
