// Package relay fans events out to the members of a room. Delivery is
// best-effort and non-blocking: a slow or disconnected session never stalls
// publication to the rest of the room, and a failed send to one member does
// not affect the others or the publisher. Events for the same note reach
// each member in publication order; no ordering holds across notes.
package relay

import (
	"github.com/EagleChen/mapmutex"
	"go.uber.org/zap"

	"notehub/internal/event"
	"notehub/internal/logging"
	"notehub/internal/metrics"
	"notehub/internal/room"
)

// Fanout publishes an event to every session in the note's room except the
// excluded originator (empty excludeID delivers to everyone).
type Fanout interface {
	Publish(noteID string, ev event.Event, excludeID string)
}

// Relay delivers events to local room members.
type Relay struct {
	reg   *room.Registry
	locks *mapmutex.Mutex // serializes publication per note to keep room order
	log   *zap.SugaredLogger
}

// New returns a relay over the given registry.
func New(reg *room.Registry) *Relay {
	return &Relay{
		reg:   reg,
		locks: mapmutex.NewMapMutex(),
		log:   logging.For("relay"),
	}
}

// Publish delivers ev to the current members of the note's room.
func (r *Relay) Publish(noteID string, ev event.Event, excludeID string) {
	for !r.locks.TryLock(noteID) {
	}
	defer r.locks.Unlock(noteID)

	for _, s := range r.reg.SessionsOf(noteID) {
		if s.ID == excludeID {
			continue
		}
		if !s.TrySend(ev) {
			metrics.DroppedSends.Inc()
			r.log.Warnw("dropping event for slow session",
				"session", s.ID, "note", noteID, "kind", ev.Kind())
		}
	}
	metrics.EventsPublished.WithLabelValues(ev.Kind()).Inc()
}
