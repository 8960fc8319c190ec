package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient starts a disposable PostgreSQL container, runs the embedded
// migrations against it, and returns a connected Client. Skipped unless
// AGENTBACKEND_INTEGRATION is set, since it needs a working Docker daemon.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("AGENTBACKEND_INTEGRATION") == "" {
		t.Skip("set AGENTBACKEND_INTEGRATION=1 to run tests against a live Postgres container")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("agentbackend_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{
		Host:            host,
		Port:            port.Int(),
		User:            "test",
		Password:        "test",
		Database:        "agentbackend_test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestNewClient_MigratesAndPings(t *testing.T) {
	client := newTestClient(t)

	var n int
	err := client.Get(&n, "SELECT count(*) FROM work_items")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestNewClient_GINIndexesExist(t *testing.T) {
	client := newTestClient(t)

	var exists bool
	err := client.Get(&exists, `SELECT EXISTS (
		SELECT 1 FROM pg_indexes WHERE indexname = 'idx_memories_lexical_gin'
	)`)
	require.NoError(t, err)
	require.True(t, exists)
}
