package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 5, cfg.Job.MaxAttempts)
	assert.Equal(t, "none", cfg.Embedding.Provider)
}

func TestInitialize_UserYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
scheduler:
  workers: 8
  tick_interval: 10s
outbox:
  base_url: https://hooks.example.com
  max_attempts: 3
embedding:
  provider: openai
  model: text-embedding-3-small
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentbackend.yaml"), []byte(yamlContent), 0o600))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, "https://hooks.example.com", cfg.Outbox.BaseURL)
	assert.Equal(t, 3, cfg.Outbox.MaxAttempts)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	// Unset sibling keys keep their defaults.
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
}

func TestInitialize_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_DB_HOST", "db.internal")
	yamlContent := `
database:
  host: ${TEST_DB_HOST}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentbackend.yaml"), []byte(yamlContent), 0o600))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestInitialize_RejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
scheduler:
  workers: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentbackend.yaml"), []byte(yamlContent), 0o600))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_EmbeddingProviderRequiresModel(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
embedding:
  provider: openai
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentbackend.yaml"), []byte(yamlContent), 0o600))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_InvalidYAMLReturnsLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentbackend.yaml"), []byte("not: [valid yaml"), 0o600))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}
