package control

import (
	"context"
	"errors"
	"time"

	"github.com/aura-swarm/swarm/gateway/internal/lifecycle"
	"github.com/aura-swarm/swarm/gateway/internal/store"
	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

// CreateSession binds a new Active session to an agent, waking or scheduling
// the agent as its state requires:
//
//	Running            -> no change
//	Idle               -> Running
//	Hibernating        -> Running (plus a best-effort re-schedule)
//	Stopped            -> Provisioning (scheduled)
//	anything else      -> AgentNotRunnable
func (s *Service) CreateSession(ctx context.Context, user ids.UserID, agentID ids.AgentID) (*types.Session, error) {
	agent, err := s.fetchOwned(ctx, user, agentID)
	if err != nil {
		return nil, err
	}

	switch agent.Status {
	case types.StateRunning:
		// Already serving.
	case types.StateIdle:
		if err := s.transition(ctx, agent, types.StateRunning); err != nil {
			return nil, err
		}
	case types.StateHibernating:
		if err := s.transition(ctx, agent, types.StateRunning); err != nil {
			return nil, err
		}
		// The pod was released on hibernate; ask for it back.
		if err := s.sched.Schedule(ctx, agent.AgentID, agent.UserID, agent.Spec); err != nil {
			s.logger.Warn("re-schedule on wake failed", "agent_id", agentID, "error", err)
		}
	case types.StateStopped:
		if err := s.transition(ctx, agent, types.StateProvisioning); err != nil {
			return nil, err
		}
		if err := s.scheduleOrFail(ctx, agent); err != nil {
			return nil, err
		}
	default:
		return nil, errAgentNotRunnable(agentID)
	}

	sess := &types.Session{
		SessionID: ids.NewSessionID(),
		AgentID:   agentID,
		UserID:    user,
		Status:    types.SessionActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return nil, errStore("put session", err)
	}

	s.logger.Info("session created", "session_id", sess.SessionID, "agent_id", agentID, "user_id", user)
	return sess, nil
}

// GetSession fetches a session the caller owns.
func (s *Service) GetSession(ctx context.Context, user ids.UserID, id ids.SessionID) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errSessionNotFound(id)
		}
		return nil, errStore("get session", err)
	}
	if sess.UserID != user {
		return nil, errNotOwner()
	}
	return sess, nil
}

// CloseSession marks the session Closed. Closing the last Active session of
// a Running agent demotes the agent to Idle.
func (s *Service) CloseSession(ctx context.Context, user ids.UserID, id ids.SessionID) error {
	sess, err := s.GetSession(ctx, user, id)
	if err != nil {
		return err
	}
	if sess.Status == types.SessionClosed {
		return nil
	}

	if err := s.store.UpdateSessionStatus(ctx, id, types.SessionClosed); err != nil {
		return errStore("close session", err)
	}

	active, err := s.countActiveSessions(ctx, sess.AgentID)
	if err != nil {
		return err
	}
	if active == 0 {
		agent, err := s.fetch(ctx, sess.AgentID)
		if err == nil && agent.Status == types.StateRunning && lifecycle.CanTransition(agent.Status, types.StateIdle) {
			if serr := s.store.UpdateAgentStatus(ctx, sess.AgentID, types.StateIdle); serr != nil {
				s.logger.Warn("idle demotion failed", "agent_id", sess.AgentID, "error", serr)
			} else {
				s.logger.Info("agent idle", "agent_id", sess.AgentID)
			}
		}
	}

	s.logger.Info("session closed", "session_id", id, "agent_id", sess.AgentID)
	return nil
}

// ListSessions returns all sessions for an agent the caller owns.
func (s *Service) ListSessions(ctx context.Context, user ids.UserID, agentID ids.AgentID) ([]*types.Session, error) {
	if _, err := s.fetchOwned(ctx, user, agentID); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessionsByAgent(ctx, agentID)
	if err != nil {
		return nil, errStore("list sessions", err)
	}
	return sessions, nil
}

func (s *Service) countActiveSessions(ctx context.Context, agentID ids.AgentID) (int, error) {
	sessions, err := s.store.ListSessionsByAgent(ctx, agentID)
	if err != nil {
		return 0, errStore("list sessions", err)
	}
	n := 0
	for _, sess := range sessions {
		if sess.Status == types.SessionActive {
			n++
		}
	}
	return n, nil
}
