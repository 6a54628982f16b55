// Package api exposes the HTTP surface: conditional reads and writes of
// notes keyed by ETag, plus the list of known note ids.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notehub/internal/control"
	"notehub/internal/logging"
	"notehub/internal/store"
)

// Server holds the HTTP handlers.
type Server struct {
	ctrl  *control.Controller
	store store.Store
	log   *zap.SugaredLogger
}

// New returns an API server.
func New(ctrl *control.Controller, st store.Store) *Server {
	return &Server{ctrl: ctrl, store: st, log: logging.For("api")}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/notes", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}", s.handleSave).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !store.ValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid note id format")
		return
	}

	if tag := r.Header.Get("If-None-Match"); tag != "" && s.ctrl.CheckNotModified(r.Context(), id, tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	snap, err := s.ctrl.Read(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		// A note that was never written reads as empty content.
		writeJSON(w, http.StatusOK, map[string]string{"content": ""})
		return
	}
	if err != nil {
		s.log.Errorw("read failed", "note", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	w.Header().Set("ETag", snap.Tag)
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, store.Note{Content: snap.Content, UpdatedAt: snap.UpdatedAt})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(snap.Content))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !store.ValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid note id format")
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ifMatch := r.Header.Get("If-Match")
	commit, err := s.ctrl.Write(r.Context(), id, body.Content, ifMatch, ifMatch != "")

	var conflict *control.ConflictError
	switch {
	case errors.As(err, &conflict):
		w.Header().Set("ETag", conflict.CurrentTag)
		writeError(w, http.StatusPreconditionFailed, "note was modified")
		return
	case err != nil:
		s.log.Errorw("save failed", "note", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	w.Header().Set("ETag", commit.Tag)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.List(r.Context())
	if err != nil {
		s.log.Errorw("list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
