package scheduler

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
	"github.com/codeready-toolchain/agentbackend/pkg/jobqueue"
)

func newTestDeps(t *testing.T) (*database.Client, *jobqueue.Store) {
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

	return client, jobqueue.NewStore(client.DB)
}

func TestDigestSweep_OnlyEnqueuesAtConfiguredHour(t *testing.T) {
	client, jobs := newTestDeps(t)
	ctx := context.Background()

	sweep := DigestSweep{Hour: 9}

	off := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	require.NoError(t, sweep.Run(ctx, client.DB, jobs, off))
	counts, err := jobs.PendingCounts(ctx)
	require.NoError(t, err)
	require.Empty(t, counts)

	on := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, sweep.Run(ctx, client.DB, jobs, on))
	counts, err = jobs.PendingCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	require.Equal(t, "digest.daily", counts[0].Kind)
}

func TestDigestSweep_SameDayIsIdempotent(t *testing.T) {
	client, jobs := newTestDeps(t)
	ctx := context.Background()

	sweep := DigestSweep{Hour: 9}
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	require.NoError(t, sweep.Run(ctx, client.DB, jobs, now))
	require.NoError(t, sweep.Run(ctx, client.DB, jobs, now.Add(10*time.Minute)))

	counts, err := jobs.PendingCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	require.Equal(t, 1, counts[0].Count)
}

func TestMissedTimestampSweep_EnqueuesForPastDueWorkItem(t *testing.T) {
	client, jobs := newTestDeps(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, err := client.DB.ExecContext(ctx, `
		INSERT INTO work_items (id, title, kind, status, not_before, sort_order)
		VALUES (gen_random_uuid(), 'orphaned reminder', 'task', 'open', $1, 0)`, past)
	require.NoError(t, err)

	sweep := MissedTimestampSweep{}
	require.NoError(t, sweep.Run(ctx, client.DB, jobs, time.Now()))

	counts, err := jobs.PendingCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	require.Equal(t, "reminder.work_item.not_before", counts[0].Kind)
}
