// Package api provides the HTTP surface of the gateway: agent and session
// CRUD, lifecycle actions, the internal reconciler endpoint and the WebSocket
// session proxy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/aura-swarm/swarm/gateway/config"
	"github.com/aura-swarm/swarm/gateway/internal/auth"
	"github.com/aura-swarm/swarm/gateway/internal/control"
	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

// Server is the HTTP API server.
type Server struct {
	control      *control.Service
	validator    auth.Validator
	logger       *slog.Logger
	mux          *chi.Mux
	maxBodyBytes int64
	wsTimeout    time.Duration
	startTime    time.Time
	rl           *rateLimiter
	hc           *http.Client
}

// NewServer creates a new API server.
func NewServer(ctrl *control.Service, validator auth.Validator, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		control:      ctrl,
		validator:    validator,
		logger:       logger.With("component", "api"),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		wsTimeout:    cfg.Session.WebSocketTimeout,
		startTime:    time.Now(),
		hc:           &http.Client{Timeout: cfg.Server.RequestTimeout},
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check (unauthenticated)
	mux.Get("/health", srv.handleHealth)

	// Internal surface for the scheduler's reconciler. No user auth; the
	// deployment restricts reachability with a network policy.
	mux.Patch("/internal/agents/{agentID}/status", srv.handleInternalStatus)
	mux.Post("/internal/agents/{agentID}/heartbeat", srv.handleHeartbeat)

	// Authenticated API routes
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))

		r.Get("/v1/agents", srv.handleListAgents)
		r.Post("/v1/agents", srv.handleCreateAgent)
		r.Get("/v1/agents/{agentID}", srv.handleGetAgent)
		r.Delete("/v1/agents/{agentID}", srv.handleDeleteAgent)
		r.Post("/v1/agents/{agentID}/start", srv.lifecycleHandler(srv.control.StartAgent))
		r.Post("/v1/agents/{agentID}/stop", srv.lifecycleHandler(srv.control.StopAgent))
		r.Post("/v1/agents/{agentID}/restart", srv.lifecycleHandler(srv.control.RestartAgent))
		r.Post("/v1/agents/{agentID}/hibernate", srv.lifecycleHandler(srv.control.HibernateAgent))
		r.Post("/v1/agents/{agentID}/wake", srv.lifecycleHandler(srv.control.WakeAgent))
		r.Get("/v1/agents/{agentID}/status", srv.handleAgentStatus)
		r.Get("/v1/agents/{agentID}/logs", srv.handleAgentLogs)
		r.Post("/v1/agents/{agentID}/sessions", srv.handleCreateSession)
		r.Get("/v1/agents/{agentID}/sessions", srv.handleListSessions)
		r.Get("/v1/sessions/{sessionID}", srv.handleGetSession)
		r.Delete("/v1/sessions/{sessionID}", srv.handleCloseSession)
	})

	// The WebSocket proxy authenticates through the same middleware but sits
	// outside the timeout: sessions outlive any request deadline.
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Get("/v1/sessions/{sessionID}/ws", srv.handleSessionWS)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup for the rate limiter.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

// --- Response shapes ---

// agentResponse is the external view of an agent. The owner ID stays
// internal.
type agentResponse struct {
	AgentID         ids.AgentID      `json:"agent_id"`
	Name            string           `json:"name"`
	Status          types.AgentState `json:"status"`
	Spec            types.AgentSpec  `json:"spec"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	LastHeartbeatAt *time.Time       `json:"last_heartbeat_at,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

func toAgentResponse(a *types.Agent) agentResponse {
	return agentResponse{
		AgentID:         a.AgentID,
		Name:            a.Name,
		Status:          a.Status,
		Spec:            a.Spec,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		LastHeartbeatAt: a.LastHeartbeatAt,
		ErrorMessage:    a.ErrorMessage,
	}
}

type sessionResponse struct {
	SessionID ids.SessionID       `json:"session_id"`
	AgentID   ids.AgentID         `json:"agent_id"`
	Status    types.SessionStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	ClosedAt  *time.Time          `json:"closed_at,omitempty"`
}

func toSessionResponse(sess *types.Session) sessionResponse {
	return sessionResponse{
		SessionID: sess.SessionID,
		AgentID:   sess.AgentID,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt,
		ClosedAt:  sess.ClosedAt,
	}
}

// --- Agent handlers ---

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	id := identityFromContext(r.Context())

	var req struct {
		Name string           `json:"name"`
		Spec *types.AgentSpec `json:"spec,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if !validAgentName(req.Name) {
		writeError(w, http.StatusBadRequest, "bad_request",
			"name must be 1-64 characters: letters, digits, hyphen, underscore")
		return
	}

	agent, err := s.control.CreateAgent(r.Context(), id.UserID, control.CreateAgentRequest{
		Name: req.Name,
		Spec: req.Spec,
	})
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	agents, err := s.control.ListAgents(r.Context(), id.UserID)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	result := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		result = append(result, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	agent, err := s.control.GetAgent(r.Context(), id.UserID, agentID)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	if err := s.control.DeleteAgent(r.Context(), id.UserID, agentID); err != nil {
		s.writeControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lifecycleHandler adapts a control lifecycle operation to an HTTP handler.
func (s *Server) lifecycleHandler(op func(context.Context, ids.UserID, ids.AgentID) (*types.Agent, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFromContext(r.Context())
		agentID, ok := parseAgentID(w, r)
		if !ok {
			return
		}
		agent, err := op(r.Context(), id.UserID, agentID)
		if err != nil {
			s.writeControlError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAgentResponse(agent))
	}
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	agent, err := s.control.GetAgent(r.Context(), id.UserID, agentID)
	if err != nil {
		s.writeControlError(w, err)
		return
	}

	endpoint, err := s.control.ResolveAgentEndpoint(r.Context(), agentID)
	if err != nil {
		s.logger.Warn("endpoint resolution failed", "agent_id", agentID, "error", err)
		endpoint = ""
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":          agent.AgentID,
		"status":            agent.Status,
		"endpoint":          endpoint,
		"last_heartbeat_at": agent.LastHeartbeatAt,
		"error_message":     agent.ErrorMessage,
	})
}

// handleAgentLogs proxies the pod's log stream. Query parameters pass
// through untouched.
func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	if _, err := s.control.GetAgent(r.Context(), id.UserID, agentID); err != nil {
		s.writeControlError(w, err)
		return
	}

	endpoint, err := s.control.ResolveAgentEndpoint(r.Context(), agentID)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	if endpoint == "" {
		writeError(w, http.StatusServiceUnavailable, "agent_unavailable", "agent has no running pod")
		return
	}

	url := fmt.Sprintf("http://%s/logs", endpoint)
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to build log request")
		return
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "agent_unavailable", "agent did not answer")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// --- Session handlers ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	sess, err := s.control.CreateSession(r.Context(), id.UserID, agentID)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	sessions, err := s.control.ListSessions(r.Context(), id.UserID, agentID)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.control.GetSession(r.Context(), id.UserID, sessionID)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	if err := s.control.CloseSession(r.Context(), id.UserID, sessionID); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// --- Internal handlers ---

func (s *Server) handleInternalStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	var req struct {
		Status  types.AgentState `json:"status"`
		Message string           `json:"message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status")
		return
	}

	if err := s.control.UpdateAgentStatusInternal(r.Context(), agentID, req.Status, req.Message); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	if err := s.control.ProcessHeartbeat(r.Context(), agentID); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Health handler ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

// --- Helpers ---

func parseAgentID(w http.ResponseWriter, r *http.Request) (ids.AgentID, bool) {
	id, err := ids.ParseAgentID(chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed agent id")
		return ids.AgentID{}, false
	}
	return id, true
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (ids.SessionID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed session id")
		return ids.SessionID{}, false
	}
	return id, true
}

// validAgentName accepts 1-64 characters of letters, digits, hyphen and
// underscore.
func validAgentName(name string) bool {
	if len(name) == 0 || len(name) > 64 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
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

// writeControlError maps a control-plane error to its HTTP shape.
func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	var ce *control.Error
	if !errors.As(err, &ce) {
		s.logger.Error("unclassified error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	switch ce.Kind {
	case control.KindAgentNotFound, control.KindSessionNotFound:
		writeError(w, http.StatusNotFound, "not_found", ce.Error())
	case control.KindNotOwner:
		writeError(w, http.StatusForbidden, "forbidden", ce.Error())
	case control.KindQuotaExceeded, control.KindInvalidState, control.KindAgentNotRunnable:
		writeError(w, http.StatusConflict, "conflict", ce.Error())
	default:
		s.logger.Error("control error", "kind", ce.Kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// writeAuthError maps a token validation failure. Infrastructure failures
// are not the caller's fault and must not read as 401.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrJWKSUnavailable) {
		s.logger.Error("jwks unavailable", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "token validation unavailable")
		return
	}
	writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
}
