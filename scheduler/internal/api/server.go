// Package api provides the scheduler's REST surface, consumed by the
// gateway.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
	"github.com/aura-swarm/swarm/scheduler/internal/cache"
	"github.com/aura-swarm/swarm/scheduler/internal/k8s"
)

// Server is the scheduler HTTP API server.
type Server struct {
	sched     k8s.Scheduler
	cache     *cache.EndpointCache
	logger    *slog.Logger
	mux       *chi.Mux
	startTime time.Time
}

// NewServer creates a new API server.
func NewServer(sched k8s.Scheduler, c *cache.EndpointCache, logger *slog.Logger) *Server {
	srv := &Server{
		sched:     sched,
		cache:     c,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)

	mux.Get("/health", srv.handleHealth)
	mux.Get("/ready", srv.handleReady)

	mux.Post("/v1/agents/{agentID}/schedule", srv.handleSchedule)
	mux.Delete("/v1/agents/{agentID}", srv.handleTerminate)
	mux.Get("/v1/agents/{agentID}/status", srv.handleStatus)
	mux.Get("/v1/agents/{agentID}/endpoint", srv.handleEndpoint)

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	var req struct {
		UserID string          `json:"user_id"`
		Spec   types.AgentSpec `json:"spec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	user, err := ids.ParseUserID(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed user id")
		return
	}

	if err := s.sched.Schedule(r.Context(), agentID, user, req.Spec); err != nil {
		if errors.Is(err, k8s.ErrSpecExceedsLimits) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		s.logger.Error("schedule failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to schedule pod")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	if err := s.sched.Terminate(r.Context(), agentID); err != nil {
		s.logger.Error("terminate failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to terminate pod")
		return
	}
	s.cache.Remove(agentID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "terminating"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	status, err := s.sched.PodStatus(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, k8s.ErrPodNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "agent has no pod")
			return
		}
		s.logger.Error("pod status failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to inspect pod")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleEndpoint prefers the reconciler-maintained cache and falls back to a
// live pod lookup.
func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	endpoint, ok := s.cache.Get(agentID)
	if !ok {
		var err error
		endpoint, err = s.sched.Endpoint(r.Context(), agentID)
		if err != nil {
			s.logger.Error("endpoint lookup failed", "agent_id", agentID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve endpoint")
			return
		}
		if endpoint != "" {
			s.cache.Insert(agentID, endpoint)
		}
	}
	if endpoint == "" {
		writeError(w, http.StatusNotFound, "not_found", "agent has no endpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"endpoint": endpoint})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func parseAgentID(w http.ResponseWriter, r *http.Request) (ids.AgentID, bool) {
	id, err := ids.ParseAgentID(chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed agent id")
		return ids.AgentID{}, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
