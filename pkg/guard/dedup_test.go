package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupKey_DeterministicAndDistinguishesInputs(t *testing.T) {
	a := DedupKey("reminder.work_item.not_before", "user@example.com", "item-1")
	b := DedupKey("reminder.work_item.not_before", "user@example.com", "item-1")
	c := DedupKey("reminder.work_item.not_before", "user@example.com", "item-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
