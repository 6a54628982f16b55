package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notehub/internal/control"
	"notehub/internal/relay"
	"notehub/internal/room"
	"notehub/internal/store"
	"notehub/internal/syncer"
)

type wsMsg map[string]any

func newTestHub(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := room.NewRegistry()
	h := New(reg, relay.New(reg), control.New(st), syncer.Options{
		Debounce: 20 * time.Millisecond,
		Tick:     time.Hour,
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg wsMsg) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func recv(t *testing.T, conn *websocket.Conn) wsMsg {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMsg
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// recvKind reads messages until one of the wanted kind arrives.
func recvKind(t *testing.T, conn *websocket.Conn, kind string) wsMsg {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := recv(t, conn)
		if msg["type"] == kind {
			return msg
		}
	}
	t.Fatalf("no %q message received", kind)
	return nil
}

func join(t *testing.T, conn *websocket.Conn, noteID string) (sessionIDs []string) {
	t.Helper()
	send(t, conn, wsMsg{"type": "join", "noteId": noteID})
	presence := recvKind(t, conn, "presence")
	for _, v := range presence["active"].([]any) {
		sessionIDs = append(sessionIDs, v.(string))
	}
	return sessionIDs
}

func TestJoinSeedsClient(t *testing.T) {
	srv, st := newTestHub(t)
	_, err := st.Write(context.Background(), "note1", "existing content")
	require.NoError(t, err)

	conn := dial(t, srv)
	members := join(t, conn, "note1")
	assert.Len(t, members, 1)

	update := recvKind(t, conn, "update")
	assert.Equal(t, "existing content", update["content"])

	saved := recvKind(t, conn, "saved")
	assert.NotEmpty(t, saved["tag"])
}

func TestJoinInvalidNoteIDIsIgnored(t *testing.T) {
	srv, _ := newTestHub(t)
	conn := dial(t, srv)
	send(t, conn, wsMsg{"type": "join", "noteId": "../escape"})

	// No join happened, so a valid join still works from a clean slate.
	members := join(t, conn, "note1")
	assert.Len(t, members, 1)
}

func TestEditReachesPeersNotOriginator(t *testing.T) {
	srv, st := newTestHub(t)

	a := dial(t, srv)
	aMembers := join(t, a, "note2")
	require.Len(t, aMembers, 1)

	b := dial(t, srv)
	bMembers := join(t, b, "note2")
	require.Len(t, bMembers, 2)
	seed := recvKind(t, b, "update") // B's join seed, server-origin
	require.Empty(t, seed["origin"])

	send(t, a, wsMsg{"type": "edit", "noteId": "note2", "content": "hello from A"})

	// B sees the live update carrying A's content and session id.
	update := recvKind(t, b, "update")
	assert.Equal(t, "hello from A", update["content"])
	assert.Contains(t, aMembers, update["origin"])

	// Both sides then hear about the committed save. A never receives an
	// echo of its own edit: skipping its seed and presence, the next
	// message is the save notification.
	next := recvKind(t, a, "saved")
	savedB := recvKind(t, b, "saved")
	assert.Equal(t, savedB["tag"], next["tag"])

	require.Eventually(t, func() bool {
		note, err := st.Read(context.Background(), "note2")
		return err == nil && note.Content == "hello from A"
	}, time.Second, 10*time.Millisecond)
}

func TestJoinAbsentNoteSeedsNoStaleCommit(t *testing.T) {
	srv, _ := newTestHub(t)
	conn := dial(t, srv)
	join(t, conn, "fresh")

	update := recvKind(t, conn, "update")
	assert.Equal(t, "", update["content"])

	// No commit exists yet, so the first saved announcement the client
	// hears is the one for its own edit, with a real timestamp.
	send(t, conn, wsMsg{"type": "edit", "noteId": "fresh", "content": "first"})
	saved := recvKind(t, conn, "saved")
	assert.Greater(t, saved["savedAt"].(float64), float64(0))
}

func TestEditForUnjoinedNoteIsIgnored(t *testing.T) {
	srv, st := newTestHub(t)
	conn := dial(t, srv)
	join(t, conn, "note1")

	send(t, conn, wsMsg{"type": "edit", "noteId": "othernote", "content": "sneaky"})

	time.Sleep(100 * time.Millisecond)
	_, err := st.Read(context.Background(), "othernote")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDisconnectIsImplicitLeave(t *testing.T) {
	srv, _ := newTestHub(t)

	a := dial(t, srv)
	join(t, a, "note3")

	b := dial(t, srv)
	members := join(t, b, "note3")
	require.Len(t, members, 2)

	// A observes B's arrival, then B drops.
	grown := recvKind(t, a, "presence")
	require.Len(t, grown["active"].([]any), 2)
	b.Close()

	shrunk := recvKind(t, a, "presence")
	assert.Len(t, shrunk["active"].([]any), 1)
}
