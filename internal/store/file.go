package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore persists each note as <id>.json under a data directory. Writes go
// through a temp file and rename so a crash mid-write never leaves a
// half-written note behind.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializes writes; reads go straight to the filesystem
}

// NewFileStore creates the data directory if needed and returns a store
// backed by it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// Read returns the note for id, or ErrNotFound.
func (f *FileStore) Read(_ context.Context, id string) (Note, error) {
	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("reading note %s: %w", id, err)
	}
	var note Note
	if err := json.Unmarshal(data, &note); err != nil {
		return Note{}, fmt.Errorf("decoding note %s: %w", id, err)
	}
	return note, nil
}

// Write replaces the note's content atomically.
func (f *FileStore) Write(_ context.Context, id, content string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	data, err := json.Marshal(Note{Content: content, UpdatedAt: now})
	if err != nil {
		return time.Time{}, fmt.Errorf("encoding note %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(f.dir, id+".*.tmp")
	if err != nil {
		return time.Time{}, fmt.Errorf("creating temp file for %s: %w", id, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return time.Time{}, fmt.Errorf("writing note %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return time.Time{}, fmt.Errorf("closing note %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), f.path(id)); err != nil {
		os.Remove(tmp.Name())
		return time.Time{}, fmt.Errorf("committing note %s: %w", id, err)
	}
	return now, nil
}

// List returns the ids of all persisted notes.
func (f *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Close is a no-op.
func (f *FileStore) Close() {}
