package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps notes in a mutex-guarded map. Used by tests and for
// ephemeral single-node runs.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]Note
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notes: make(map[string]Note)}
}

// Read returns the note for id, or ErrNotFound.
func (m *MemoryStore) Read(_ context.Context, id string) (Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	note, ok := m.notes[id]
	if !ok {
		return Note{}, ErrNotFound
	}
	return note, nil
}

// Write replaces the note's content. The assigned timestamp never goes
// backwards for a given id, even if the wall clock does.
func (m *MemoryStore) Write(_ context.Context, id, content string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := m.notes[id]; ok && now.Before(prev.UpdatedAt) {
		now = prev.UpdatedAt
	}
	m.notes[id] = Note{Content: content, UpdatedAt: now}
	return now, nil
}

// List returns all known note ids.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.notes))
	for id := range m.notes {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() {}
