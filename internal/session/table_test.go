package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTablePutGetTake(t *testing.T) {
	tbl := NewTable[string](time.Minute)
	defer tbl.Close()

	tbl.Put("chat-1", "pending")

	v, ok := tbl.Get("chat-1")
	require.True(t, ok)
	assert.Equal(t, "pending", v)
	assert.Equal(t, 1, tbl.Len())

	v, ok = tbl.Take("chat-1")
	require.True(t, ok)
	assert.Equal(t, "pending", v)

	// Take consumes: a second Take finds nothing.
	_, ok = tbl.Take("chat-1")
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

func TestTableSupersede(t *testing.T) {
	tbl := NewTable[int](time.Minute)
	defer tbl.Close()

	tbl.Put("chat-1", 1)
	tbl.Put("chat-1", 2)

	v, ok := tbl.Get("chat-1")
	require.True(t, ok)
	assert.Equal(t, 2, v, "last writer wins")
	assert.Equal(t, 1, tbl.Len(), "at most one live entry per key")
}

func TestTableExpiry(t *testing.T) {
	tbl := NewTable[string](20 * time.Millisecond)
	defer tbl.Close()

	tbl.Put("chat-1", "pending")

	assert.Eventually(t, func() bool {
		_, ok := tbl.Get("chat-1")
		return !ok
	}, time.Second, 5*time.Millisecond, "entry should expire")
	assert.Equal(t, 0, tbl.Len())
}

func TestTablePutReArmsTimer(t *testing.T) {
	tbl := NewTable[string](60 * time.Millisecond)
	defer tbl.Close()

	tbl.Put("chat-1", "first")
	time.Sleep(40 * time.Millisecond)
	tbl.Put("chat-1", "second")
	time.Sleep(40 * time.Millisecond)

	// 80ms after the first Put, but only 40ms after the superseding one:
	// the fresh TTL applies.
	v, ok := tbl.Get("chat-1")
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestTableDelete(t *testing.T) {
	tbl := NewTable[string](time.Minute)
	defer tbl.Close()

	tbl.Put("chat-1", "pending")
	tbl.Delete("chat-1")
	_, ok := tbl.Get("chat-1")
	assert.False(t, ok)

	// Deleting a missing key is a no-op.
	tbl.Delete("chat-2")
}

func TestTableClose(t *testing.T) {
	tbl := NewTable[string](time.Minute)
	tbl.Put("chat-1", "pending")
	tbl.Close()

	assert.Equal(t, 0, tbl.Len())
	tbl.Put("chat-2", "ignored")
	assert.Equal(t, 0, tbl.Len(), "puts after close are dropped")
}
