package room

import (
	"sync"

	"notehub/internal/event"
)

// Session is one connected client's identity for the duration of its
// connection. Events queued through TrySend are drained by the transport's
// write pump in FIFO order.
type Session struct {
	ID string

	mu     sync.Mutex
	send   chan event.Event
	closed bool
}

// NewSession returns a session with a send buffer of the given size.
func NewSession(id string, buffer int) *Session {
	return &Session{ID: id, send: make(chan event.Event, buffer)}
}

// TrySend queues an event without blocking. It reports false when the buffer
// is full or the session is closed; the caller decides whether that matters.
func (s *Session) TrySend(ev event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- ev:
		return true
	default:
		return false
	}
}

// Events exposes the queued events for the write pump.
func (s *Session) Events() <-chan event.Event {
	return s.send
}

// Close stops the session from accepting events and lets the write pump
// drain and exit. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}
