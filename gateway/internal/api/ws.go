package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aura-swarm/swarm/pkg/types"
)

const (
	// Max frame from either side: 1 MB, same cap as HTTP bodies.
	wsMaxMessage = 1024 * 1024
	// Handshake budget for dialing the pod.
	wsDialTimeout = 15 * time.Second
)

var sessionUpgrader = websocket.Upgrader{
	// CORS already ran; origins the config rejects never reach this point.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSessionWS upgrades the client connection and splices it to the
// agent pod's /stream socket. The proxy never parses frame content.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed session id")
		return
	}

	sess, err := s.control.GetSession(r.Context(), id.UserID, sessionID)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	if sess.Status != types.SessionActive {
		writeError(w, http.StatusConflict, "conflict", "session is not active")
		return
	}

	endpoint, err := s.control.ResolveAgentEndpoint(r.Context(), sess.AgentID)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	if endpoint == "" {
		writeError(w, http.StatusServiceUnavailable, "agent_unavailable", "agent has no running pod")
		return
	}

	clientConn, err := sessionUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("session proxy: client upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer func() { _ = clientConn.Close() }()
	clientConn.SetReadLimit(wsMaxMessage)

	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	podURL := fmt.Sprintf("ws://%s/stream", endpoint)
	podConn, resp, err := dialer.Dial(podURL, nil)
	if err != nil {
		s.logger.Warn("session proxy: pod dial failed", "session_id", sessionID, "endpoint", endpoint, "error", err)
		_ = clientConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "agent unavailable"))
		return
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = podConn.Close() }()
	podConn.SetReadLimit(wsMaxMessage)

	s.logger.Info("session proxy: connected",
		"session_id", sessionID, "agent_id", sess.AgentID, "endpoint", endpoint)

	// Bidirectional splice. When either direction ends the deferred closes
	// unblock the sibling reader and tear down both sockets.
	done := make(chan struct{}, 2)

	go s.forward(clientConn, podConn, done)
	go s.forward(podConn, clientConn, done)

	<-done
	s.logger.Info("session proxy: disconnected", "session_id", sessionID, "agent_id", sess.AgentID)
}

// forward copies frames from src to dst until either side fails or closes.
// The idle timeout bounds how long a silent connection is kept.
func (s *Server) forward(src, dst *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		if s.wsTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(s.wsTimeout))
		}
		msgType, data, err := src.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("session proxy: read ended", "error", err)
			}
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
