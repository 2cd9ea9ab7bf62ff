package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryReplaceDisposesPrevious(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.Set("messages", func() { calls = append(calls, "old") })
	r.Set("messages", func() { calls = append(calls, "new") })

	assert.Equal(t, []string{"old"}, calls)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryCloseOrder(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.Set("conversations", func() { calls = append(calls, "conversations") })
	r.Set("presence", func() { calls = append(calls, "presence") })
	r.Set("messages", func() { calls = append(calls, "messages") })
	r.Dispose("presence")

	r.Close()
	r.Close()

	assert.Equal(t, []string{"presence", "messages", "conversations"}, calls)
	assert.Zero(t, r.Len())

	ran := false
	r.Set("late", func() { ran = true })
	assert.True(t, ran, "registering on a closed registry disposes immediately")
}
