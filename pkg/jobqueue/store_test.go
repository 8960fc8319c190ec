package jobqueue

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/agentbackend/pkg/database"
)

// newTestStore starts a disposable Postgres container with the full schema
// migrated, mirroring pkg/database's own integration-test gating.
func newTestStore(t *testing.T) *Store {
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

	return NewStore(client.DB)
}

func TestEnqueue_DuplicateIdempotencyKeyIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.Enqueue(ctx, store.db, "reminder.work_item.not_before", time.Now(), []byte(`{}`), "k1")
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := store.Enqueue(ctx, store.db, "reminder.work_item.not_before", time.Now(), []byte(`{}`), "k1")
	require.NoError(t, err)
	require.Empty(t, id2)

	counts, err := store.PendingCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	require.Equal(t, 1, counts[0].Count)
}

func TestEnqueue_ConcurrentDuplicateKeysYieldOneRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.Enqueue(ctx, store.db, "nudge.work_item.not_after", time.Now(), []byte(`{}`), "concurrent-key")
			if err == nil && id != "" {
				atomic.AddInt64(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, succeeded)
}

func TestClaim_NoDoubleClaimUnderConcurrency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := store.Enqueue(ctx, store.db, "digest.daily", time.Now(), []byte(`{}`), "")
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			jobs, err := store.Claim(ctx, workerID, 10, time.Minute)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, j := range jobs {
				require.False(t, seen[j.ID], "job %s claimed twice", j.ID)
				seen[j.ID] = true
			}
		}("worker-" + string(rune('a'+w)))
	}
	wg.Wait()

	require.Len(t, seen, 20)
}

func TestComplete_IsTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, store.db, "api.refresh", time.Now(), []byte(`{}`), "")
	require.NoError(t, err)

	jobs, err := store.Claim(ctx, "worker-1", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, store.Complete(ctx, jobs[0].ID, "worker-1"))

	jobs2, err := store.Claim(ctx, "worker-1", 10, time.Minute)
	require.ErrorIs(t, err, ErrNoJobsAvailable)
	require.Empty(t, jobs2)
}

func TestFail_NeverSetsCompletedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, store.db, "api.refresh", time.Now(), []byte(`{}`), "")
	require.NoError(t, err)

	jobs, err := store.Claim(ctx, "worker-1", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, store.Fail(ctx, jobs[0].ID, "worker-1", nil, time.Millisecond))

	// Job should still be pending (and claimable again once run_at passes).
	time.Sleep(10 * time.Millisecond)
	jobs2, err := store.Claim(ctx, "worker-2", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs2, 1)
	require.Equal(t, 1, jobs2[0].Attempts)
}
