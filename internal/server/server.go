// Package server exposes search sessions over HTTP: a JSON API, an SSE event
// stream, a WebSocket control channel, the index page and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/symregweb/internal/config"
	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/present"
	"github.com/cwbudde/symregweb/internal/protocol"
	"github.com/cwbudde/symregweb/internal/search"
	"github.com/cwbudde/symregweb/internal/store"
)

// maxBodyBytes bounds request bodies, which carry CSV text.
const maxBodyBytes = 32 << 20

// Server represents the HTTP server
type Server struct {
	manager *Manager
	cfg     config.Config
	results *store.FSStore
	server  *http.Server
}

// NewServer creates a new HTTP server. Results are exported when results is
// not nil.
func NewServer(cfg config.Config, eng engine.Engine, results *store.FSStore) *Server {
	return &Server{
		manager: NewManager(ManagerOptions{
			Engine:      eng,
			MaxSessions: cfg.MaxSessions,
			Results:     results,
			Broadcaster: NewBroadcaster(cfg.StreamRate, cfg.StreamBurst),
		}),
		cfg:     cfg,
		results: results,
	}
}

// Manager returns the session manager.
func (s *Server) Manager() *Manager {
	return s.manager
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// UI routes
	mux.HandleFunc("/", s.handleIndex)

	// API routes
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/sessions/", s.handleSessionsWithID)
	mux.HandleFunc("/api/v1/results", s.handleResults)

	mux.Handle("/metrics", promhttp.Handler())

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.cfg.Addr, "results", s.results != nil)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and cancels active runs
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "active_sessions", len(s.manager.Active()))
	defer s.manager.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// createSessionRequest is the body of POST /api/v1/sessions. Omitted options
// fall back to the server's search defaults field by field.
type createSessionRequest struct {
	CSVText            string                `json:"csvText"`
	Options            *search.Configuration `json:"options,omitempty"`
	Operators          string                `json:"operators"`
	StepCycles         int                   `json:"stepCycles,omitempty"`
	SnapshotEverySteps int                   `json:"snapshotEverySteps,omitempty"`
}

// restartRequest is the optional body of POST /api/v1/sessions/:id/restart.
type restartRequest struct {
	StepCycles         int `json:"stepCycles,omitempty"`
	SnapshotEverySteps int `json:"snapshotEverySteps,omitempty"`
}

// sessionResponse is a session status with its rendered view.
type sessionResponse struct {
	orchestrator.Status
	View present.View `json:"view"`
}

func newSessionResponse(st orchestrator.Status) sessionResponse {
	return sessionResponse{Status: st, View: present.Render(st)}
}

// handleSessions handles /api/v1/sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionsWithID handles /api/v1/sessions/:id/*
func (s *Server) handleSessionsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sessionID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" || action == "status":
		s.requireMethod(w, r, http.MethodGet, func() { s.handleGetSession(w, r, sessionID) })
	case action == "stop":
		s.requireMethod(w, r, http.MethodPost, func() { s.handleStopSession(w, r, sessionID) })
	case action == "restart":
		s.requireMethod(w, r, http.MethodPost, func() { s.handleRestartSession(w, r, sessionID) })
	case action == "stream":
		s.requireMethod(w, r, http.MethodGet, func() { s.handleSessionStream(w, r, sessionID) })
	case action == "ws":
		s.requireMethod(w, r, http.MethodGet, func() { s.handleSessionWebSocket(w, r, sessionID) })
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string, next func()) {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	next()
}

// handleCreateSession handles POST /api/v1/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	defaults := s.cfg.Search
	body := createSessionRequest{Options: &defaults}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if body.Options == nil {
		body.Options = &defaults
	}

	run := protocol.Run{StepBudget: body.StepCycles, SnapshotEvery: body.SnapshotEverySteps}
	req := requestFor(body.CSVText, body.Options, body.Operators, run, s.cfg.Run())

	session, err := s.manager.Create(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeStartError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newSessionResponse(session.Status()))
}

// handleListSessions handles GET /api/v1/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	statuses := s.manager.List()

	responses := make([]sessionResponse, len(statuses))
	for i, st := range statuses {
		responses[i] = newSessionResponse(st)
	}
	writeJSON(w, http.StatusOK, responses)
}

// handleGetSession handles GET /api/v1/sessions/:id
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, exists := s.manager.Get(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session.Status()))
}

// handleStopSession handles POST /api/v1/sessions/:id/stop
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, exists := s.manager.Get(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if err := session.Stop(r.Context()); err != nil {
		if errors.Is(err, orchestrator.ErrNotActive) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to stop session: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, newSessionResponse(session.Status()))
}

// handleRestartSession handles POST /api/v1/sessions/:id/restart
func (s *Server) handleRestartSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, exists := s.manager.Get(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	var run *protocol.Run
	if r.ContentLength != 0 {
		var body restartRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
		override := s.runOrDefault(protocol.Run{StepBudget: body.StepCycles, SnapshotEvery: body.SnapshotEverySteps})
		run = &override
	}

	if err := s.manager.Restart(context.WithoutCancel(r.Context()), session, run); err != nil {
		writeStartError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newSessionResponse(session.Status()))
}

// handleResults handles GET /api/v1/results
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.results == nil {
		http.Error(w, "Result export is disabled", http.StatusNotFound)
		return
	}

	infos, err := s.results.ListResults()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list results: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRun), errors.Is(err, search.ErrConfiguration):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrTooManySessions):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, fmt.Sprintf("Failed to start session: %v", err), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
