package apisource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDiff_FirstFetchIsAllCreated(t *testing.T) {
	diff, entries, err := computeDiff(nil, []byte(`{"a":{"x":1},"b":{"y":2}}`))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, diff.Created)
	assert.Empty(t, diff.Updated)
	assert.Empty(t, diff.Deleted)
	assert.Len(t, entries, 2)
}

func TestComputeDiff_DetectsUpdated(t *testing.T) {
	old := []byte(`{"a":{"x":1},"b":{"y":2}}`)
	next := []byte(`{"a":{"x":1},"b":{"y":3}}`)

	diff, _, err := computeDiff(old, next)
	require.NoError(t, err)
	assert.Empty(t, diff.Created)
	assert.Equal(t, []string{"b"}, diff.Updated)
	assert.Empty(t, diff.Deleted)
}

func TestComputeDiff_KeyOrderDoesNotCountAsUpdate(t *testing.T) {
	old := []byte(`{"a":{"x":1,"y":2}}`)
	next := []byte(`{"a":{"y":2,"x":1}}`)

	diff, _, err := computeDiff(old, next)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestComputeDiff_RemovedKeyIsDeleted(t *testing.T) {
	old := []byte(`{"a":{"x":1},"b":{"y":2}}`)
	next := []byte(`{"a":{"x":1}}`)

	diff, _, err := computeDiff(old, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, diff.Deleted)
}
