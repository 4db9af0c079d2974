package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

// Scheduler is the control service's view of the pod scheduler. The HTTP
// client talks to the scheduler service; the noop variant serves deployments
// without a cluster.
type Scheduler interface {
	// Schedule requests a pod for the agent. Idempotent.
	Schedule(ctx context.Context, id ids.AgentID, user ids.UserID, spec types.AgentSpec) error
	// Terminate releases the agent's pod. Absence is success.
	Terminate(ctx context.Context, id ids.AgentID) error
	// Endpoint resolves the pod's host:port, or "" when unknown.
	Endpoint(ctx context.Context, id ids.AgentID) (string, error)
}

// HTTPScheduler calls the scheduler service's REST API.
type HTTPScheduler struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

// NewHTTPScheduler builds a client for the scheduler at baseURL.
func NewHTTPScheduler(baseURL string, logger *slog.Logger) *HTTPScheduler {
	return &HTTPScheduler{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With("component", "scheduler-client"),
	}
}

type scheduleRequest struct {
	UserID string          `json:"user_id"`
	Spec   types.AgentSpec `json:"spec"`
}

// Schedule issues POST /v1/agents/{id}/schedule.
func (s *HTTPScheduler) Schedule(ctx context.Context, id ids.AgentID, user ids.UserID, spec types.AgentSpec) error {
	body, err := json.Marshal(scheduleRequest{UserID: user.String(), Spec: spec})
	if err != nil {
		return fmt.Errorf("encode schedule request: %w", err)
	}
	url := fmt.Sprintf("%s/v1/agents/%s/schedule", s.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("schedule agent: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("schedule agent: scheduler returned %d", resp.StatusCode)
	}
	return nil
}

// Terminate issues DELETE /v1/agents/{id}. A 404 means the pod is already
// gone, which counts as success.
func (s *HTTPScheduler) Terminate(ctx context.Context, id ids.AgentID) error {
	url := fmt.Sprintf("%s/v1/agents/%s", s.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("terminate agent: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("terminate agent: scheduler returned %d", resp.StatusCode)
	}
	return nil
}

// Endpoint issues GET /v1/agents/{id}/endpoint.
func (s *HTTPScheduler) Endpoint(ctx context.Context, id ids.AgentID) (string, error) {
	url := fmt.Sprintf("%s/v1/agents/%s/endpoint", s.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve endpoint: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("resolve endpoint: scheduler returned %d", resp.StatusCode)
	}
	var out struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode endpoint response: %w", err)
	}
	return out.Endpoint, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// NoopScheduler is used when no SCHEDULER_URL is configured. It logs the
// calls and reports a fixed local endpoint so the platform runs without a
// cluster.
type NoopScheduler struct {
	logger *slog.Logger
}

// NewNoopScheduler builds the no-cluster scheduler.
func NewNoopScheduler(logger *slog.Logger) *NoopScheduler {
	return &NoopScheduler{logger: logger.With("component", "scheduler-noop")}
}

// Schedule logs and succeeds.
func (s *NoopScheduler) Schedule(_ context.Context, id ids.AgentID, user ids.UserID, _ types.AgentSpec) error {
	s.logger.Info("schedule (noop)", "agent_id", id, "user_id", user)
	return nil
}

// Terminate logs and succeeds.
func (s *NoopScheduler) Terminate(_ context.Context, id ids.AgentID) error {
	s.logger.Info("terminate (noop)", "agent_id", id)
	return nil
}

// Endpoint reports the local development runtime address.
func (s *NoopScheduler) Endpoint(_ context.Context, _ ids.AgentID) (string, error) {
	return "localhost:8080", nil
}
