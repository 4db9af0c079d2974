package k8s

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

// Notifier pushes externally observed state changes to the control plane.
type Notifier interface {
	NotifyStatus(ctx context.Context, id ids.AgentID, state types.AgentState, msg string) error
}

// GatewayNotifier calls the gateway's internal status endpoint.
type GatewayNotifier struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

// NewGatewayNotifier builds a notifier for the gateway at baseURL.
func NewGatewayNotifier(baseURL string, logger *slog.Logger) *GatewayNotifier {
	return &GatewayNotifier{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "gateway-client"),
	}
}

// NotifyStatus issues PATCH /internal/agents/{id}/status. A conflict means
// the gateway rejected the transition; that is its call to make, not an
// error here.
func (n *GatewayNotifier) NotifyStatus(ctx context.Context, id ids.AgentID, state types.AgentState, msg string) error {
	body, err := json.Marshal(map[string]any{
		"status":  state,
		"message": msg,
	})
	if err != nil {
		return fmt.Errorf("encode status update: %w", err)
	}

	url := fmt.Sprintf("%s/internal/agents/%s/status", n.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.hc.Do(req)
	if err != nil {
		return fmt.Errorf("notify status: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		n.logger.Debug("gateway rejected transition", "agent_id", id, "to", state)
		return nil
	default:
		return fmt.Errorf("notify status: gateway returned %d", resp.StatusCode)
	}
}
