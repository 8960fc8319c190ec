package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentbackend/pkg/guard"
)

func TestGuardedEnqueuer_DedupSkipsSecondEmit(t *testing.T) {
	store := newTestStore(t)
	g := NewGuardedEnqueuer(store, guard.NewDedupGuard(10*time.Minute), guard.NewRateGuard(time.Minute, nil, 60))

	id1, err := g.Enqueue(context.Background(), "reminder.work_item.not_before", "/hooks/agent", []byte(`{}`), "wi-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := g.Enqueue(context.Background(), "reminder.work_item.not_before", "/hooks/agent", []byte(`{}`), "wi-1")
	require.NoError(t, err)
	assert.Empty(t, id2)
}

func TestGuardedEnqueuer_RateLimitReturnsErrRateLimited(t *testing.T) {
	store := newTestStore(t)
	g := NewGuardedEnqueuer(store, guard.NewDedupGuard(10*time.Minute), guard.NewRateGuard(time.Minute, nil, 1))

	_, err := g.Enqueue(context.Background(), "nudge.work_item.not_after", "/hooks/wake", []byte(`{}`), "wi-2")
	require.NoError(t, err)

	_, err = g.Enqueue(context.Background(), "nudge.work_item.not_after", "/hooks/wake", []byte(`{}`), "wi-3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
}
