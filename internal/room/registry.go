// Package room tracks which sessions are viewing which note. The registry is
// the single source of truth for membership: join and leave take effect under
// one lock together with the presence events they emit, so no observer ever
// sees a stale membership snapshot interleaved with a newer presence event
// for the same transition.
package room

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"notehub/internal/event"
	"notehub/internal/logging"
	"notehub/internal/metrics"
)

// Registry maps note ids to the sessions currently viewing them. A session
// is a member of at most one room at any instant.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Session
	byID   map[string]string // session id -> note id
	log    *zap.SugaredLogger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]*Session),
		byID:   make(map[string]string),
		log:    logging.For("room"),
	}
}

// Join moves the session into the room for noteID, leaving any room it
// previously occupied. Presence is emitted to the old room (if any) and then
// to the new one, and the resulting membership snapshot is returned.
func (r *Registry) Join(s *Session, noteID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked(s.ID)

	members, ok := r.rooms[noteID]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[noteID] = members
	}
	members[s.ID] = s
	r.byID[s.ID] = noteID

	snapshot := r.membersLocked(noteID)
	r.presenceLocked(noteID, snapshot)
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.log.Debugw("session joined", "session", s.ID, "note", noteID, "members", len(snapshot))
	return snapshot
}

// Leave removes the session from whatever room it is in. Idempotent; a
// session that never joined is a no-op.
func (r *Registry) Leave(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(s.ID)
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
}

// detachLocked removes the session from its current room and announces the
// shrunk membership to whoever remains. Stale entries for a reused session
// identity are always cleared before the caller re-adds.
func (r *Registry) detachLocked(sessionID string) {
	noteID, ok := r.byID[sessionID]
	if !ok {
		return
	}
	delete(r.rooms[noteID], sessionID)
	delete(r.byID, sessionID)
	if len(r.rooms[noteID]) == 0 {
		delete(r.rooms, noteID)
		return
	}
	r.presenceLocked(noteID, r.membersLocked(noteID))
}

// MembersOf returns a sorted snapshot of the session ids in the room.
func (r *Registry) MembersOf(noteID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(noteID)
}

// SessionsOf returns the sessions currently in the room, for delivery.
func (r *Registry) SessionsOf(noteID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.rooms[noteID]))
	for _, s := range r.rooms[noteID] {
		sessions = append(sessions, s)
	}
	return sessions
}

// NoteOf returns the note the session is viewing, if any.
func (r *Registry) NoteOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	noteID, ok := r.byID[sessionID]
	return noteID, ok
}

func (r *Registry) membersLocked(noteID string) []string {
	ids := make([]string, 0, len(r.rooms[noteID]))
	for id := range r.rooms[noteID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// presenceLocked delivers the membership snapshot to every room member.
// Sends are non-blocking so a slow session cannot hold the registry lock
// hostage.
func (r *Registry) presenceLocked(noteID string, members []string) {
	ev := event.NewPresence(members)
	for _, s := range r.rooms[noteID] {
		if !s.TrySend(ev) {
			metrics.DroppedSends.Inc()
			r.log.Warnw("dropping presence event for slow session", "session", s.ID, "note", noteID)
		}
	}
	metrics.EventsPublished.WithLabelValues(event.KindPresence).Inc()
}
