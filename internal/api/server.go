// Package api serves the optional read-only status API, backed
// entirely by the reading store so the publish loop stays untouched.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"hdsentinelmqtt/internal/storage"
)

// defaultHistoryLimit applies when no limit query parameter is given.
const defaultHistoryLimit = 24

// Server is the status API server.
type Server struct {
	store *storage.Store
	log   *logrus.Logger
}

// NewServer creates a status API server over the reading store.
func NewServer(store *storage.Store, log *logrus.Logger) *Server {
	return &Server{store: store, log: log}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/disks", s.handleListDisks)
		r.Get("/disks/{alias}", s.handleGetDisk)
		r.Get("/disks/{alias}/history", s.handleHistory)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDisks(w http.ResponseWriter, r *http.Request) {
	disks, err := s.store.ListDisks()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if disks == nil {
		disks = []storage.DiskRecord{}
	}
	s.writeJSON(w, http.StatusOK, disks)
}

func (s *Server) handleGetDisk(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	disk, err := s.store.GetDisk(alias)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	response := map[string]interface{}{"disk": disk}
	if reading, err := s.store.LatestReading(alias); err == nil {
		response["reading"] = reading
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := s.store.ReadingHistory(alias, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []storage.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("failed to encode API response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
