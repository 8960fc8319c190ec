package search

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

func newTestEngine(t *testing.T) (*database.Client, *Engine) {
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

	return client, NewEngine(client.DB, nil)
}

func insertNote(t *testing.T, client *database.Client, title, owner, visibility string, hideFromAgents bool) {
	t.Helper()
	_, err := client.DB.Exec(`
		INSERT INTO notes (namespace, title, content, visibility, hide_from_agents, user_email, embedding_status)
		VALUES ('default', $1, $2, $3, $4, $5, 'skipped')`,
		title, title+" body content", visibility, hideFromAgents, owner)
	require.NoError(t, err)
}

// TestEngine_Search_ScenarioFive reproduces the documented 3-note ranking
// scenario: a non-owner searching "typescript guide" over a public
// "TypeScript Guide" note, a public "Python Tutorial" note, and a private
// "Owner Secret" note must never see the private note, and the matching
// public note must outrank the non-matching one.
func TestEngine_Search_ScenarioFive(t *testing.T) {
	client, engine := newTestEngine(t)
	ctx := context.Background()

	insertNote(t, client, "TypeScript Guide", "owner@example.com", "public", false)
	insertNote(t, client, "Python Tutorial", "owner@example.com", "public", false)
	insertNote(t, client, "Owner Secret", "owner@example.com", "private", true)

	resp, err := engine.Search(ctx, Request{CallerEmail: "reader@example.com", Query: "typescript guide"})
	require.NoError(t, err)
	require.LessOrEqual(t, len(resp.Results), 2)

	for _, r := range resp.Results {
		require.NotEqual(t, "Owner Secret", r.Title, "private note must never be visible to a non-owner")
	}
	require.Equal(t, "TypeScript Guide", resp.Results[0].Title)
}

func TestEngine_Search_PrivateHiddenNoteNeverReturnedEvenWithKeywordMatch(t *testing.T) {
	client, engine := newTestEngine(t)
	ctx := context.Background()

	insertNote(t, client, "typescript secret plan", "owner@example.com", "private", true)

	resp, err := engine.Search(ctx, Request{CallerEmail: "reader@example.com", Query: "typescript"})
	require.NoError(t, err)
	require.Empty(t, resp.Results)
}

func TestEngine_Search_OwnerSeesOwnPrivateNote(t *testing.T) {
	client, engine := newTestEngine(t)
	ctx := context.Background()

	insertNote(t, client, "typescript secret plan", "owner@example.com", "private", true)

	resp, err := engine.Search(ctx, Request{CallerEmail: "owner@example.com", Query: "typescript"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestEngine_Search_NoEmbedderDegradesToTextOnly(t *testing.T) {
	_, engine := newTestEngine(t)
	ctx := context.Background()

	resp, err := engine.Search(ctx, Request{CallerEmail: "reader@example.com", Query: "anything at all"})
	require.NoError(t, err)
	require.Equal(t, SearchTypeText, resp.SearchType)
}

func TestEngine_Search_SingleTokenQueryDegradesToTextOnly(t *testing.T) {
	_, engine := newTestEngine(t)
	ctx := context.Background()

	resp, err := engine.Search(ctx, Request{CallerEmail: "reader@example.com", Query: "solo"})
	require.NoError(t, err)
	require.Equal(t, SearchTypeText, resp.SearchType)
}

func TestEngine_Search_EmptyQueryRejected(t *testing.T) {
	_, engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Search(ctx, Request{CallerEmail: "reader@example.com", Query: "   "})
	require.ErrorIs(t, err, ErrEmptyQuery)
}
