// Package hub terminates the real-time channel. Each WebSocket connection
// becomes a session with a read pump decoding join/edit messages and a write
// pump draining the session's event queue. Disconnection is an implicit
// leave.
package hub

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"notehub/internal/control"
	"notehub/internal/etag"
	"notehub/internal/event"
	"notehub/internal/logging"
	"notehub/internal/metrics"
	"notehub/internal/relay"
	"notehub/internal/room"
	"notehub/internal/store"
	"notehub/internal/syncer"
)

const sendBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub wires sessions to the room registry, the relay and the per-session
// schedulers.
type Hub struct {
	reg  *room.Registry
	fan  relay.Fanout
	ctrl *control.Controller
	opts syncer.Options
	log  *zap.SugaredLogger
}

// New returns a hub.
func New(reg *room.Registry, fan relay.Fanout, ctrl *control.Controller, opts syncer.Options) *Hub {
	return &Hub{reg: reg, fan: fan, ctrl: ctrl, opts: opts, log: logging.For("hub")}
}

// ServeWS upgrades the connection and runs the session until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("upgrade failed", "error", err)
		return
	}

	sess := room.NewSession(uuid.NewString(), sendBuffer)
	sched := syncer.New(sess.ID, h.ctrl, h.fan, func(ev event.Event) {
		if !sess.TrySend(ev) {
			metrics.DroppedSends.Inc()
		}
	}, h.opts)

	metrics.OpenSessions.Inc()
	h.log.Infow("session connected", "session", sess.ID, "remote", r.RemoteAddr)

	go h.writePump(conn, sess, sched)
	h.readPump(r.Context(), conn, sess, sched)

	// Implicit leave: drop membership first so the completed save's
	// broadcast, if any, only reaches remaining members.
	h.reg.Leave(sess)
	sched.Stop()
	sess.Close()
	conn.Close()
	metrics.OpenSessions.Dec()
	h.log.Infow("session disconnected", "session", sess.ID)
}

func (h *Hub) readPump(ctx context.Context, conn *websocket.Conn, sess *room.Session, sched *syncer.Scheduler) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.log.Debugw("read pump closed", "session", sess.ID, "error", err)
			return
		}
		ev, err := event.Decode(data)
		if err != nil {
			h.log.Warnw("bad message", "session", sess.ID, "error", err)
			continue
		}
		switch msg := ev.(type) {
		case event.Join:
			h.handleJoin(ctx, sess, sched, msg)
		case event.Edit:
			h.handleEdit(ctx, sess, sched, msg)
		default:
			h.log.Warnw("unexpected inbound event", "session", sess.ID, "kind", ev.Kind())
		}
	}
}

func (h *Hub) handleJoin(ctx context.Context, sess *room.Session, sched *syncer.Scheduler, msg event.Join) {
	if !store.ValidID(msg.NoteID) {
		h.log.Warnw("join with invalid note id", "session", sess.ID, "note", msg.NoteID)
		return
	}
	snap, err := sched.Join(ctx, msg.NoteID)
	if err != nil {
		h.log.Errorw("join read failed", "session", sess.ID, "note", msg.NoteID, "error", err)
		return
	}
	h.reg.Join(sess, msg.NoteID)

	// Seed the joining client with the current persisted state so it can
	// render immediately. An absent note has no commit to announce.
	sess.TrySend(event.NewUpdate(snap.Content, ""))
	if snap.Tag != etag.None {
		sess.TrySend(event.NewSaved(snap.Tag, snap.UpdatedAt.UnixMilli()))
	}
}

func (h *Hub) handleEdit(ctx context.Context, sess *room.Session, sched *syncer.Scheduler, msg event.Edit) {
	if sched.Note() != msg.NoteID {
		h.log.Warnw("edit for note the session has not joined",
			"session", sess.ID, "note", msg.NoteID)
		return
	}
	sched.Edit(ctx, msg.Content)
}

// writePump drains the session queue onto the socket, routing peer events
// through the scheduler's bookkeeping on the way out.
func (h *Hub) writePump(conn *websocket.Conn, sess *room.Session, sched *syncer.Scheduler) {
	ctx := context.Background()
	for ev := range sess.Events() {
		switch msg := ev.(type) {
		case event.Update:
			// Origin is empty for server pushes (join seeds, reloads),
			// which the scheduler produced itself.
			if msg.Origin != "" && msg.Origin != sess.ID {
				sched.OnRemoteUpdate(ctx, msg.Content)
			}
		case event.Saved:
			sched.OnRemoteSaved(ctx, msg.Tag)
		}
		if err := conn.WriteJSON(ev); err != nil {
			h.log.Debugw("write pump closed", "session", sess.ID, "error", err)
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage, []byte{})
}
