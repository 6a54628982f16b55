// Package control implements the optimistic-concurrency controller. Every
// save is a check-and-set over one note id: the caller presents the tag it
// last saw, the controller re-reads the current tag under that note's lock
// and either commits the write or rejects it with the authoritative tag.
// Writers to different ids never contend.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EagleChen/mapmutex"
	"go.uber.org/zap"

	"notehub/internal/etag"
	"notehub/internal/logging"
	"notehub/internal/metrics"
	"notehub/internal/store"
)

// Snapshot is the result of a read: the stored content and its version tag.
type Snapshot struct {
	Content   string
	Tag       string
	UpdatedAt time.Time
}

// Commit is the result of an accepted write.
type Commit struct {
	Tag       string
	UpdatedAt time.Time
}

// ConflictError rejects a conditional write whose expected tag is stale.
// CurrentTag carries the authoritative tag so the caller can reconcile
// without another round trip.
type ConflictError struct {
	CurrentTag string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("note was modified, current tag %s", e.CurrentTag)
}

// Controller arbitrates competing saves on notes.
type Controller struct {
	store store.Store
	locks *mapmutex.Mutex
	log   *zap.SugaredLogger
}

// New returns a controller over the given store.
func New(st store.Store) *Controller {
	return &Controller{
		store: st,
		locks: mapmutex.NewMapMutex(),
		log:   logging.For("control"),
	}
}

// lock acquires the per-note lock. TryLock backs off internally between
// attempts; keep trying until the slot frees.
func (c *Controller) lock(id string) {
	for !c.locks.TryLock(id) {
	}
}

// Read returns the note's content and tag. Absent notes surface as
// store.ErrNotFound; the boundary layer renders those as empty content with
// no tag.
func (c *Controller) Read(ctx context.Context, id string) (Snapshot, error) {
	note, err := c.store.Read(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Content:   note.Content,
		Tag:       etag.FromContent(note.Content),
		UpdatedAt: note.UpdatedAt,
	}, nil
}

// Write persists new content for the note. When conditional, the write is
// committed only if expectedTag still matches the note's current tag; a
// mismatch returns *ConflictError and leaves the store untouched. A
// conditional write against a note that does not exist yet always proceeds.
func (c *Controller) Write(ctx context.Context, id, content, expectedTag string, conditional bool) (Commit, error) {
	c.lock(id)
	defer c.locks.Unlock(id)

	if conditional {
		note, err := c.store.Read(ctx, id)
		switch {
		case err == nil:
			current := etag.FromContent(note.Content)
			if !etag.Match(current, expectedTag) {
				metrics.SavesTotal.WithLabelValues("conflict").Inc()
				c.log.Debugw("rejecting stale write",
					"note", id, "expected", expectedTag, "current", current)
				return Commit{}, &ConflictError{CurrentTag: current}
			}
		case errors.Is(err, store.ErrNotFound):
			// New note: nothing to conflict with.
		default:
			metrics.SavesTotal.WithLabelValues("error").Inc()
			return Commit{}, fmt.Errorf("reading note %s before write: %w", id, err)
		}
	}

	updated, err := c.store.Write(ctx, id, content)
	if err != nil {
		metrics.SavesTotal.WithLabelValues("error").Inc()
		return Commit{}, fmt.Errorf("writing note %s: %w", id, err)
	}
	metrics.SavesTotal.WithLabelValues("accepted").Inc()
	return Commit{Tag: etag.FromContent(content), UpdatedAt: updated}, nil
}

// CheckNotModified reports whether the note's current tag equals the tag the
// caller already holds, letting reads short-circuit with no body transfer.
func (c *Controller) CheckNotModified(ctx context.Context, id, presentedTag string) bool {
	if presentedTag == etag.None {
		return false
	}
	note, err := c.store.Read(ctx, id)
	if err != nil {
		return false
	}
	if etag.Match(etag.FromContent(note.Content), presentedTag) {
		metrics.NotModifiedTotal.Inc()
		return true
	}
	return false
}
