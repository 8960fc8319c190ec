// Package embedding provides the query-embedding side of hybrid search:
// an Embedder abstraction over whatever provider is configured, a
// short-TTL cache keyed on normalized query text, and provider fallback so
// a transient embedding failure degrades search to lexical-only instead of
// failing the request. Computing embeddings is out of scope here —
// Embedder is implemented by a caller-supplied client.
package embedding

import (
	"context"
	"strings"
	"time"
)

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client wraps one or more Embedders with a query-embedding cache and
// provider fallback: if the primary fails, the next provider in the chain
// is tried; if all fail, Embed returns an error so the caller (pkg/search)
// can degrade to lexical-only.
type Client struct {
	providers []Embedder
	cache     *Cache
}

// NewClient builds a Client trying providers in order, caching successful
// query embeddings for ttl.
func NewClient(ttl time.Duration, providers ...Embedder) *Client {
	return &Client{providers: providers, cache: NewCache(ttl)}
}

// Configured reports whether at least one provider is wired — callers use
// this to decide whether to attempt vector search at all.
func (c *Client) Configured() bool {
	return len(c.providers) > 0
}

// Embed returns text's embedding, serving from cache when the normalized
// query text was embedded within the TTL, trying each provider in order on
// a cache miss.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := normalizeQuery(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	var lastErr error
	for _, provider := range c.providers {
		vec, err := provider.Embed(ctx, text)
		if err != nil {
			lastErr = err
			continue
		}
		c.cache.Set(key, vec)
		return vec, nil
	}
	return nil, lastErr
}

// normalizeQuery canonicalizes query text for cache-key purposes: trimmed
// and lowercased, so "Call  Dentist" and "call dentist" share a cache
// entry.
func normalizeQuery(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
