package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notehub/internal/control"
	"notehub/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	srv := httptest.NewServer(New(control.New(st), st).Router())
	t.Cleanup(srv.Close)
	return srv, st
}

func postNote(t *testing.T, srv *httptest.Server, id, content, ifMatch string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"content": content})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/notes/%s", srv.URL, id), bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getNote(t *testing.T, srv *httptest.Server, id string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/notes/%s", srv.URL, id), nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGetNote(t *testing.T) {
	t.Run("absent note reads as empty content", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := getNote(t, srv, "never", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "", body["content"])
		assert.Empty(t, resp.Header.Get("ETag"))
	})

	t.Run("plain text by default", func(t *testing.T) {
		srv, _ := newTestServer(t)
		postNote(t, srv, "note1", "hello", "")

		resp := getNote(t, srv, "note1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
		assert.NotEmpty(t, resp.Header.Get("ETag"))
	})

	t.Run("json when accepted", func(t *testing.T) {
		srv, _ := newTestServer(t)
		postNote(t, srv, "note1", "hello", "")

		resp := getNote(t, srv, "note1", map[string]string{"Accept": "application/json"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var note store.Note
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&note))
		assert.Equal(t, "hello", note.Content)
		assert.False(t, note.UpdatedAt.IsZero())
	})

	t.Run("invalid id", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := getNote(t, srv, "bad_id", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSaveNote(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp := postNote(t, srv, "bad_id", "x", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp, err := http.Post(srv.URL+"/api/notes/note1", "application/json", bytes.NewReader([]byte("{")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

// The conditional request flow end to end, as two HTTP clients would see it.
func TestConditionalFlow(t *testing.T) {
	srv, st := newTestServer(t)

	// Client A creates the note unconditionally.
	resp := postNote(t, srv, "note1", "hello", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	t1 := resp.Header.Get("ETag")
	require.NotEmpty(t, t1)

	// Client B revalidates its cache: not modified.
	resp = getNote(t, srv, "note1", map[string]string{"If-None-Match": t1})
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	// Client B saves on top of T1 and gets a fresh tag.
	resp = postNote(t, srv, "note1", "hello from B", t1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	t2 := resp.Header.Get("ETag")
	require.NotEmpty(t, t2)
	assert.NotEqual(t, t1, t2)

	// Client A retries its stale write and is rejected with B's tag.
	resp = postNote(t, srv, "note1", "hello from A", t1)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, t2, resp.Header.Get("ETag"))

	// The store still holds B's content.
	note, err := st.Read(context.Background(), "note1")
	require.NoError(t, err)
	assert.Equal(t, "hello from B", note.Content)
}

func TestListNotes(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/notes")
	require.NoError(t, err)
	defer resp.Body.Close()
	var ids []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	assert.Empty(t, ids)

	postNote(t, srv, "alpha", "1", "")
	postNote(t, srv, "beta", "2", "")

	resp, err = http.Get(srv.URL + "/api/notes")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	assert.ElementsMatch(t, []string{"alpha", "beta"}, ids)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
