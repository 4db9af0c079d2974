// Package control implements the agent control service: CRUD with ownership
// and quota enforcement, lifecycle transitions, session binding, and the
// bridge to the pod scheduler.
//
// Every mutating operation follows the same shape: fetch the agent, verify
// the caller owns it, validate the state transition, persist, then (when
// relevant) tell the scheduler.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aura-swarm/swarm/gateway/internal/lifecycle"
	"github.com/aura-swarm/swarm/gateway/internal/store"
	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

// DefaultMaxAgentsPerUser is the quota applied when the config leaves it
// unset.
const DefaultMaxAgentsPerUser = 10

// CreateAgentRequest carries the user-supplied fields of a new agent.
type CreateAgentRequest struct {
	Name string
	// Spec is optional; nil applies the platform default.
	Spec *types.AgentSpec
}

// Service is the control plane core.
type Service struct {
	store            store.Store
	sched            Scheduler
	logger           *slog.Logger
	maxAgentsPerUser int
}

// NewService wires the control service.
func NewService(st store.Store, sched Scheduler, maxAgentsPerUser int, logger *slog.Logger) *Service {
	if maxAgentsPerUser <= 0 {
		maxAgentsPerUser = DefaultMaxAgentsPerUser
	}
	return &Service{
		store:            st,
		sched:            sched,
		logger:           logger.With("component", "control"),
		maxAgentsPerUser: maxAgentsPerUser,
	}
}

// CreateAgent allocates a new agent in Provisioning and asks the scheduler
// for a pod. A scheduler failure marks the agent Error instead of rolling
// back.
func (s *Service) CreateAgent(ctx context.Context, user ids.UserID, req CreateAgentRequest) (*types.Agent, error) {
	n, err := s.store.CountAgentsByUser(ctx, user)
	if err != nil {
		return nil, errStore("count agents", err)
	}
	if n >= s.maxAgentsPerUser {
		return nil, errQuotaExceeded(s.maxAgentsPerUser)
	}

	spec := types.DefaultSpec()
	if req.Spec != nil {
		spec = *req.Spec
	}

	now := time.Now().UTC()
	agent := &types.Agent{
		AgentID:   ids.NewAgentID(user, req.Name, now),
		UserID:    user,
		Name:      req.Name,
		Status:    types.StateProvisioning,
		Spec:      spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutAgent(ctx, agent); err != nil {
		return nil, errStore("put agent", err)
	}

	if err := s.sched.Schedule(ctx, agent.AgentID, user, spec); err != nil {
		s.logger.Error("scheduling failed", "agent_id", agent.AgentID, "error", err)
		if serr := s.store.UpdateAgentError(ctx, agent.AgentID, types.StateError, err.Error()); serr != nil {
			s.logger.Error("failed to record scheduling error", "agent_id", agent.AgentID, "error", serr)
		}
		return nil, errInternal("schedule agent", err)
	}

	s.logger.Info("agent created", "agent_id", agent.AgentID, "user_id", user, "name", req.Name)
	return agent, nil
}

// GetAgent fetches an agent the caller owns.
func (s *Service) GetAgent(ctx context.Context, user ids.UserID, id ids.AgentID) (*types.Agent, error) {
	return s.fetchOwned(ctx, user, id)
}

// ListAgents returns all agents owned by the caller.
func (s *Service) ListAgents(ctx context.Context, user ids.UserID) ([]*types.Agent, error) {
	agents, err := s.store.ListAgentsByUser(ctx, user)
	if err != nil {
		return nil, errStore("list agents", err)
	}
	return agents, nil
}

// DeleteAgent removes a terminal agent and all of its sessions.
func (s *Service) DeleteAgent(ctx context.Context, user ids.UserID, id ids.AgentID) error {
	agent, err := s.fetchOwned(ctx, user, id)
	if err != nil {
		return err
	}
	if !lifecycle.IsTerminal(agent.Status) {
		return errInvalidState(agent.Status, types.StateStopped)
	}

	sessions, err := s.store.ListSessionsByAgent(ctx, id)
	if err != nil {
		return errStore("list sessions", err)
	}
	for _, sess := range sessions {
		if err := s.store.DeleteSession(ctx, sess.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return errStore("delete session", err)
		}
	}
	if err := s.store.DeleteAgent(ctx, id); err != nil {
		return errStore("delete agent", err)
	}

	s.logger.Info("agent deleted", "agent_id", id, "user_id", user)
	return nil
}

// StartAgent moves a Stopped agent back through Provisioning.
func (s *Service) StartAgent(ctx context.Context, user ids.UserID, id ids.AgentID) (*types.Agent, error) {
	agent, err := s.fetchOwned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, agent, types.StateProvisioning); err != nil {
		return nil, err
	}
	if err := s.scheduleOrFail(ctx, agent); err != nil {
		return nil, err
	}
	s.logger.Info("agent started", "agent_id", id)
	return s.reload(ctx, id)
}

// StopAgent closes the agent's sessions and begins termination. Scheduler
// failures are logged, not fatal; the reconciler observes the real outcome.
func (s *Service) StopAgent(ctx context.Context, user ids.UserID, id ids.AgentID) (*types.Agent, error) {
	agent, err := s.fetchOwned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := s.closeActiveSessions(ctx, id); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, agent, types.StateStopping); err != nil {
		return nil, err
	}
	if err := s.sched.Terminate(ctx, id); err != nil {
		s.logger.Warn("terminate failed, reconciler will converge", "agent_id", id, "error", err)
	}
	s.logger.Info("agent stopping", "agent_id", id)
	return s.reload(ctx, id)
}

// RestartAgent performs a synthetic stop/start: the local record walks
// Stopping, Stopped and Provisioning without waiting for the reconciler to
// observe the pod. A later observation corrects any drift.
func (s *Service) RestartAgent(ctx context.Context, user ids.UserID, id ids.AgentID) (*types.Agent, error) {
	agent, err := s.fetchOwned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := s.closeActiveSessions(ctx, id); err != nil {
		return nil, err
	}

	for _, next := range []types.AgentState{types.StateStopping, types.StateStopped, types.StateProvisioning} {
		if err := s.transition(ctx, agent, next); err != nil {
			return nil, err
		}
		agent.Status = next
	}

	if err := s.sched.Terminate(ctx, id); err != nil {
		s.logger.Warn("terminate during restart failed", "agent_id", id, "error", err)
	}
	if err := s.scheduleOrFail(ctx, agent); err != nil {
		return nil, err
	}
	s.logger.Info("agent restarting", "agent_id", id)
	return s.reload(ctx, id)
}

// HibernateAgent releases the pod but keeps the logical agent. Sessions are
// closed first.
func (s *Service) HibernateAgent(ctx context.Context, user ids.UserID, id ids.AgentID) (*types.Agent, error) {
	agent, err := s.fetchOwned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := s.closeActiveSessions(ctx, id); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, agent, types.StateHibernating); err != nil {
		return nil, err
	}
	if err := s.sched.Terminate(ctx, id); err != nil {
		s.logger.Warn("terminate failed, reconciler will converge", "agent_id", id, "error", err)
	}
	s.logger.Info("agent hibernating", "agent_id", id)
	return s.reload(ctx, id)
}

// WakeAgent brings a hibernating agent straight back to Running; a stopped
// agent goes through Provisioning and scheduling.
func (s *Service) WakeAgent(ctx context.Context, user ids.UserID, id ids.AgentID) (*types.Agent, error) {
	agent, err := s.fetchOwned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanWake(agent.Status) {
		return nil, errInvalidState(agent.Status, types.StateRunning)
	}

	switch agent.Status {
	case types.StateHibernating:
		if err := s.transition(ctx, agent, types.StateRunning); err != nil {
			return nil, err
		}
	case types.StateStopped:
		if err := s.transition(ctx, agent, types.StateProvisioning); err != nil {
			return nil, err
		}
		if err := s.scheduleOrFail(ctx, agent); err != nil {
			return nil, err
		}
	}
	s.logger.Info("agent woken", "agent_id", id, "from", agent.Status)
	return s.reload(ctx, id)
}

// ProcessHeartbeat records liveness from the agent pod. No ownership check:
// heartbeats arrive over the internal surface.
func (s *Service) ProcessHeartbeat(ctx context.Context, id ids.AgentID) error {
	if err := s.store.UpdateAgentHeartbeat(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errAgentNotFound(id)
		}
		return errStore("update heartbeat", err)
	}
	return nil
}

// ResolveAgentEndpoint returns the pod address for an active agent, or ""
// when the agent has no pod.
func (s *Service) ResolveAgentEndpoint(ctx context.Context, id ids.AgentID) (string, error) {
	agent, err := s.fetch(ctx, id)
	if err != nil {
		return "", err
	}
	if !lifecycle.IsActive(agent.Status) {
		return "", nil
	}
	ep, err := s.sched.Endpoint(ctx, id)
	if err != nil {
		return "", errInternal("resolve endpoint", err)
	}
	return ep, nil
}

// UpdateAgentStatusInternal applies an externally observed transition from
// the reconciler. Ownership is not checked; the internal surface is
// network-policy restricted.
//
// A Stopped notification for a Hibernating agent is skipped: hibernation
// deletes the pod on purpose and the logical state must survive it.
func (s *Service) UpdateAgentStatusInternal(ctx context.Context, id ids.AgentID, status types.AgentState, msg string) error {
	agent, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}

	if agent.Status == types.StateHibernating && status == types.StateStopped {
		s.logger.Debug("ignoring pod deletion for hibernating agent", "agent_id", id)
		return nil
	}
	if agent.Status == status {
		return nil
	}
	if !lifecycle.CanTransition(agent.Status, status) {
		return errInvalidState(agent.Status, status)
	}

	if status == types.StateError && msg != "" {
		err = s.store.UpdateAgentError(ctx, id, status, msg)
	} else {
		err = s.store.UpdateAgentStatus(ctx, id, status)
	}
	if err != nil {
		return errStore("update status", err)
	}

	s.logger.Info("agent status updated externally",
		"agent_id", id, "from", agent.Status, "to", status, "message", msg)
	return nil
}

// --- helpers ---

func (s *Service) fetch(ctx context.Context, id ids.AgentID) (*types.Agent, error) {
	agent, err := s.store.GetAgent(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errAgentNotFound(id)
		}
		return nil, errStore("get agent", err)
	}
	return agent, nil
}

func (s *Service) fetchOwned(ctx context.Context, user ids.UserID, id ids.AgentID) (*types.Agent, error) {
	agent, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.UserID != user {
		return nil, errNotOwner()
	}
	return agent, nil
}

func (s *Service) reload(ctx context.Context, id ids.AgentID) (*types.Agent, error) {
	return s.fetch(ctx, id)
}

// transition validates against the lifecycle table and persists the new
// status.
func (s *Service) transition(ctx context.Context, agent *types.Agent, to types.AgentState) error {
	if !lifecycle.CanTransition(agent.Status, to) {
		return errInvalidState(agent.Status, to)
	}
	if err := s.store.UpdateAgentStatus(ctx, agent.AgentID, to); err != nil {
		return errStore("update status", err)
	}
	return nil
}

// scheduleOrFail asks the scheduler for a pod; on failure the agent is
// marked Error with the scheduler's message.
func (s *Service) scheduleOrFail(ctx context.Context, agent *types.Agent) error {
	if err := s.sched.Schedule(ctx, agent.AgentID, agent.UserID, agent.Spec); err != nil {
		s.logger.Error("scheduling failed", "agent_id", agent.AgentID, "error", err)
		if serr := s.store.UpdateAgentError(ctx, agent.AgentID, types.StateError, err.Error()); serr != nil {
			s.logger.Error("failed to record scheduling error", "agent_id", agent.AgentID, "error", serr)
		}
		return errInternal("schedule agent", err)
	}
	return nil
}

func (s *Service) closeActiveSessions(ctx context.Context, id ids.AgentID) error {
	sessions, err := s.store.ListSessionsByAgent(ctx, id)
	if err != nil {
		return errStore("list sessions", err)
	}
	for _, sess := range sessions {
		if sess.Status != types.SessionActive {
			continue
		}
		if err := s.store.UpdateSessionStatus(ctx, sess.SessionID, types.SessionClosed); err != nil {
			return errStore(fmt.Sprintf("close session %s", sess.SessionID), err)
		}
	}
	return nil
}
