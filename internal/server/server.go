// Package server is the HTTP and WebSocket gateway. The REST surface covers
// the lobby: listing puzzle types, creating, inspecting, and destroying
// sessions. Live play happens over the per-player socket in websocket.go;
// every participant the gateway hosts is an ordinary store client, so a
// session keeps working when its players connect through different gateway
// processes sharing one store.
package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"puzzlerace/internal/client"
	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
	"puzzlerace/internal/session"
	"puzzlerace/internal/storage"
)

// Server routes lobby requests and hosts player sockets.
type Server struct {
	mux      *http.ServeMux
	store    storage.Store
	registry *puzzle.Registry
	catalog  *powerup.Catalog
	manager  *session.Manager
}

// New creates a server with all routes.
func New(st storage.Store, registry *puzzle.Registry, catalog *powerup.Catalog, manager *session.Manager) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		store:    st,
		registry: registry,
		catalog:  catalog,
		manager:  manager,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/puzzles", s.handleListPuzzles)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/ws", s.handlePlayerSocket)
	s.mux.HandleFunc("GET /api/sessions/{id}/watch", s.handleObserverSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleListPuzzles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.manager.List(r.Context())
	if err != nil {
		log.Printf("list sessions: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list sessions"})
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

type createSessionRequest struct {
	AdminName        string         `json:"adminName"`
	PuzzleType       string         `json:"puzzleType"`
	Difficulty       string         `json:"difficulty"`
	TimeLimitMinutes int            `json:"timeLimitMinutes"`
	RankOnTimeout    bool           `json:"rankOnTimeout"`
	Powerup          powerup.Config `json:"powerup"`
}

type createSessionResponse struct {
	ID      string `json:"id"`
	AdminID string `json:"adminId"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.AdminName = strings.TrimSpace(req.AdminName)
	req.PuzzleType = strings.TrimSpace(req.PuzzleType)
	if req.AdminName == "" || req.PuzzleType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "adminName and puzzleType required"})
		return
	}

	adminID := uuid.NewString()
	id, err := s.manager.Create(r.Context(), session.CreateParams{
		AdminID:          adminID,
		PuzzleType:       req.PuzzleType,
		Difficulty:       req.Difficulty,
		TimeLimitMinutes: req.TimeLimitMinutes,
		RankOnTimeout:    req.RankOnTimeout,
		Powerup:          req.Powerup,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// Seat the admin right away so the lobby lists them before their
	// socket opens; the socket's join then resumes this player.
	cl, err := client.Join(r.Context(), s.clientOptions(id, adminID, req.AdminName))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	cl.Close()

	writeJSON(w, http.StatusCreated, createSessionResponse{ID: id, AdminID: adminID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	obs, err := client.Observe(r.Context(), s.clientOptions(r.PathValue("id"), "", ""))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	defer obs.Close()
	writeJSON(w, http.StatusOK, obs.View())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Remove(r.Context(), r.PathValue("id"), r.Header.Get("X-Player-ID"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, session.ErrNotAdmin):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// clientOptions assembles the store-client options for one participant.
// Observers pass empty playerID and name.
func (s *Server) clientOptions(sessionID, playerID, name string) client.Options {
	return client.Options{
		Store:     s.store,
		Registry:  s.registry,
		Catalog:   s.catalog,
		SessionID: sessionID,
		PlayerID:  playerID,
		Name:      name,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
