// Package event defines the wire vocabulary of the real-time channel. Clients
// send join and edit messages; the server pushes presence, update, saved and
// conflict events. Every message carries a "type" discriminator so the
// receiver can sniff the kind before decoding the full payload.
package event

import (
	"encoding/json"
	"fmt"
)

// Message kinds.
const (
	KindJoin     = "join"
	KindEdit     = "edit"
	KindPresence = "presence"
	KindUpdate   = "update"
	KindSaved    = "saved"
	KindConflict = "conflict"
)

// Event is any message that travels over the real-time channel.
type Event interface {
	Kind() string
}

// Join is a client request to start viewing a note. Joining a new note
// implicitly leaves the previous one.
type Join struct {
	Type   string `json:"type"`
	NoteID string `json:"noteId"`
}

func (Join) Kind() string { return KindJoin }

// Edit is a client-side content change, sent on every local mutation.
type Edit struct {
	Type    string `json:"type"`
	NoteID  string `json:"noteId"`
	Content string `json:"content"`
}

func (Edit) Kind() string { return KindEdit }

// Presence announces the current membership of a room.
type Presence struct {
	Type   string   `json:"type"`
	Active []string `json:"active"`
}

func (Presence) Kind() string { return KindPresence }

// NewPresence builds a presence event for the given member snapshot.
func NewPresence(active []string) Presence {
	return Presence{Type: KindPresence, Active: active}
}

// Update carries a peer's live content change. Origin is the session that
// produced the edit; it is empty when the server itself pushes content, e.g.
// the snapshot sent on join or after a conflict reload.
type Update struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Origin  string `json:"origin,omitempty"`
}

func (Update) Kind() string { return KindUpdate }

// NewUpdate builds an update event.
func NewUpdate(content, origin string) Update {
	return Update{Type: KindUpdate, Content: content, Origin: origin}
}

// Saved announces that a conditional write was accepted. Tag is the fresh
// version tag; SavedAt is the commit time in Unix milliseconds.
type Saved struct {
	Type    string `json:"type"`
	Tag     string `json:"tag"`
	SavedAt int64  `json:"savedAt"`
}

func (Saved) Kind() string { return KindSaved }

// NewSaved builds a saved event.
func NewSaved(tag string, savedAt int64) Saved {
	return Saved{Type: KindSaved, Tag: tag, SavedAt: savedAt}
}

// Conflict tells one client that its save was rejected. Tag is the
// authoritative current tag so the client can reconcile without another
// round trip.
type Conflict struct {
	Type string `json:"type"`
	Tag  string `json:"tag"`
}

func (Conflict) Kind() string { return KindConflict }

// NewConflict builds a conflict event.
func NewConflict(tag string) Conflict {
	return Conflict{Type: KindConflict, Tag: tag}
}

// Decode sniffs the type discriminator and unmarshals the concrete message.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding event header: %w", err)
	}
	switch head.Type {
	case KindJoin:
		var msg Join
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case KindEdit:
		var msg Edit
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case KindPresence:
		var msg Presence
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case KindUpdate:
		var msg Update
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case KindSaved:
		var msg Saved
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case KindConflict:
		var msg Conflict
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", head.Type)
	}
}
