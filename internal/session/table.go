// Package session provides an in-memory TTL-keyed table for transient
// conversation state.
//
// The orchestrator runs two instances of the same primitive: pending
// clarification sessions keyed by chat id and pending calendar-poll
// sessions keyed by poll correlation id. Entries silently expire after
// the table's TTL; a Put for an existing key supersedes the old entry
// and re-arms its timer. State is per-process only.
package session

import (
	"sync"
	"time"
)

// Table is a thread-safe map whose entries expire after a fixed TTL.
type Table[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*entry[V]
	closed  bool
}

type entry[V any] struct {
	value V
	timer *time.Timer
}

// NewTable creates a table whose entries live for ttl after insertion.
func NewTable[V any](ttl time.Duration) *Table[V] {
	return &Table[V]{
		ttl:     ttl,
		entries: make(map[string]*entry[V]),
	}
}

// Put stores value under key, superseding any existing entry for the
// same key. The entry's expiry timer is armed with the full TTL.
func (t *Table[V]) Put(key string, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if old, ok := t.entries[key]; ok {
		old.timer.Stop()
	}

	e := &entry[V]{value: value}
	e.timer = time.AfterFunc(t.ttl, func() {
		t.expire(key, e)
	})
	t.entries[key] = e
}

// expire removes the entry if it is still the one the timer was armed
// for. A Put that superseded the entry in the meantime wins.
func (t *Table[V]) expire(key string, e *entry[V]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.entries[key]; ok && cur == e {
		delete(t.entries, key)
	}
}

// Get returns the live entry for key, if any. The entry stays in the
// table and its timer is not touched.
func (t *Table[V]) Get(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Take removes and returns the entry for key. Sessions are single-use:
// consuming one stops its timer so a late expiry cannot fire.
func (t *Table[V]) Take(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.timer.Stop()
	delete(t.entries, key)
	return e.value, true
}

// Delete removes the entry for key, if present.
func (t *Table[V]) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		e.timer.Stop()
		delete(t.entries, key)
	}
}

// Len returns the number of live entries.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close stops all timers and drops all entries. Further Puts are no-ops.
func (t *Table[V]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
	t.closed = true
}
