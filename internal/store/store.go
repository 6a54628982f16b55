// Package store is the durable side of the system: a key-value mapping from
// note id to content plus the timestamp of the last successful write. The
// synchronization engine only ever touches notes through the Store interface,
// so backends are interchangeable.
package store

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// ErrNotFound is returned when a note id has never been written.
var ErrNotFound = errors.New("note not found")

// Note is one stored document.
type Note struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated"`
}

// Store is a durable note backend. Implementations must be safe for
// concurrent use; UpdatedAt assigned by Write is non-decreasing per id.
type Store interface {
	// Read returns the note for id, or ErrNotFound.
	Read(ctx context.Context, id string) (Note, error)

	// Write replaces the note's content and returns the assigned timestamp.
	Write(ctx context.Context, id, content string) (time.Time, error)

	// List returns all known note ids. Order is not guaranteed.
	List(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close()
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ValidID reports whether id is a well-formed note id. Stores trust their
// callers to have checked this at the boundary.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
