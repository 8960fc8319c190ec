package guard

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/agentbackend/pkg/database"
)

func newTestDB(t *testing.T) *database.Client {
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

	client, err := database.NewClient(ctx, database.Config{
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

func TestDedupGuard_SecondEmitWithinWindowIsSkipped(t *testing.T) {
	client := newTestDB(t)
	ctx := context.Background()
	g := NewDedupGuard(10 * time.Minute)
	key := DedupKey("reminder.work_item.not_before", "user@example.com", "item-1")

	tx1, err := client.DB.BeginTxx(ctx, nil)
	require.NoError(t, err)
	allowed, err := g.Allow(ctx, tx1, key)
	require.NoError(t, err)
	require.True(t, allowed)
	require.NoError(t, tx1.Commit())

	tx2, err := client.DB.BeginTxx(ctx, nil)
	require.NoError(t, err)
	allowed, err = g.Allow(ctx, tx2, key)
	require.NoError(t, err)
	require.False(t, allowed)
	require.NoError(t, tx2.Rollback())
}

func TestRateGuard_DefersOnceLimitExceeded(t *testing.T) {
	client := newTestDB(t)
	ctx := context.Background()
	g := NewRateGuard(time.Minute, nil, 2)
	now := time.Now()

	for i := 0; i < 2; i++ {
		tx, err := client.DB.BeginTxx(ctx, nil)
		require.NoError(t, err)
		result, err := g.Check(ctx, tx, "user@example.com", "slack", now)
		require.NoError(t, err)
		require.True(t, result.Allowed)
		require.NoError(t, tx.Commit())
	}

	tx, err := client.DB.BeginTxx(ctx, nil)
	require.NoError(t, err)
	result, err := g.Check(ctx, tx, "user@example.com", "slack", now)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Greater(t, result.RemainingDelay, time.Duration(0))
	require.NoError(t, tx.Commit())
}
