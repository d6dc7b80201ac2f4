package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/strrl/agentchat/internal/logger"
	"github.com/strrl/agentchat/pkg/models"
)

// Server exposes the store and agent over the chat HTTP API
type Server struct {
	store *Store
	agent Agent
	mux   *http.ServeMux
	now   func() time.Time
	log   *log.Logger

	// reported by GET /api/config
	useRealAgent bool
	agentPath    string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAgentInfo sets what GET /api/config reports about the agent.
func WithAgentInfo(useRealAgent bool, path string) ServerOption {
	return func(s *Server) {
		s.useRealAgent = useRealAgent
		s.agentPath = path
	}
}

// WithServerClock overrides the clock used to stamp messages.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a Server answering queries with agent
func NewServer(store *Store, agent Agent, opts ...ServerOption) *Server {
	s := &Server{
		store: store,
		agent: agent,
		mux:   http.NewServeMux(),
		now:   time.Now,
		log:   logger.With("component", "backend"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("PUT /api/sessions/{id}", s.handleRenameSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/history/{id}", s.handleHistory)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/config", s.handleConfig)
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.logMiddleware(s.mux))
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting backend", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

type nameRequest struct {
	Name string `json:"name"`
}

type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.internalError(w, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.store.CreateSession(r.Context(), req.Name)
	if err != nil {
		s.internalError(w, "create session", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.store.RenameSession(r.Context(), r.PathValue("id"), req.Name)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		s.internalError(w, "rename session", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		s.internalError(w, "delete session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.History(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		s.internalError(w, "fetch history", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	userMsg := models.NewMessage(models.RoleUser, req.Query, s.now())
	if _, err := s.store.AppendMessages(ctx, req.SessionID, userMsg); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		s.internalError(w, "append user message", err)
		return
	}

	reply := s.agent.Query(ctx, req.Query)
	botMsg := models.NewMessage(models.RoleBot, reply, s.now())
	history, err := s.store.AppendMessages(ctx, req.SessionID, botMsg)
	if errors.Is(err, ErrNotFound) {
		// deleted while the agent was answering
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		s.internalError(w, "append bot message", err)
		return
	}

	s.log.Debug("answered query", "session", req.SessionID, "history", len(history))
	writeJSON(w, http.StatusOK, models.ChatResponse{Response: reply, History: history})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	available := false
	if s.agentPath != "" {
		available = (&CLIAgent{Path: s.agentPath}).Available()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"use_real_agent":  s.useRealAgent,
		"ts_agent_path":   s.agentPath,
		"agent_available": available,
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			s.log.Debug("request", "method", r.Method, "path", r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", "err", err)
	}
}

// writeError writes a {"detail": msg} error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return false
	}
	return true
}
