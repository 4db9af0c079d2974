package control

import (
	"context"
	"testing"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

func TestCreateSessionOnRunningAgent(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newTestService(t, 10)
	user := testOwner()
	agent := mustCreate(t, svc, user, "alpha")

	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateRunning); err != nil {
		t.Fatal(err)
	}
	sess, err := svc.CreateSession(ctx, user, agent.AgentID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Status != types.SessionActive {
		t.Errorf("status = %v, want active", sess.Status)
	}
	if sess.AgentID != agent.AgentID || sess.UserID != user {
		t.Errorf("session = %+v", sess)
	}

	got, _ := st.GetAgent(ctx, agent.AgentID)
	if got.Status != types.StateRunning {
		t.Errorf("agent status = %v, want running unchanged", got.Status)
	}
}

func TestCreateSessionWakesIdleAgent(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newTestService(t, 10)
	user := testOwner()
	agent := mustCreate(t, svc, user, "alpha")

	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateRunning); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateIdle); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.CreateSession(ctx, user, agent.AgentID); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, _ := st.GetAgent(ctx, agent.AgentID)
	if got.Status != types.StateRunning {
		t.Errorf("agent status = %v, want running", got.Status)
	}
}

func TestCreateSessionWakesHibernatingAgent(t *testing.T) {
	ctx := context.Background()
	svc, sched, st := newTestService(t, 10)
	user := testOwner()
	agent := mustCreate(t, svc, user, "alpha")

	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateRunning); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.HibernateAgent(ctx, user, agent.AgentID); err != nil {
		t.Fatal(err)
	}
	before := len(sched.scheduled)

	if _, err := svc.CreateSession(ctx, user, agent.AgentID); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, _ := st.GetAgent(ctx, agent.AgentID)
	if got.Status != types.StateRunning {
		t.Errorf("agent status = %v, want running", got.Status)
	}
	if len(sched.scheduled) != before+1 {
		t.Errorf("hibernating agent was not re-scheduled")
	}
}

func TestCreateSessionRestartsStoppedAgent(t *testing.T) {
	ctx := context.Background()
	svc, sched, st := newTestService(t, 10)
	user := testOwner()
	agent := mustCreate(t, svc, user, "alpha")

	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateStopping); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateStopped); err != nil {
		t.Fatal(err)
	}
	before := len(sched.scheduled)

	if _, err := svc.CreateSession(ctx, user, agent.AgentID); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, _ := st.GetAgent(ctx, agent.AgentID)
	if got.Status != types.StateProvisioning {
		t.Errorf("agent status = %v, want provisioning", got.Status)
	}
	if len(sched.scheduled) != before+1 {
		t.Errorf("stopped agent was not scheduled")
	}
}

func TestCreateSessionRejectsUnrunnableStates(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newTestService(t, 10)
	user := testOwner()
	agent := mustCreate(t, svc, user, "alpha")

	// Provisioning, Stopping and Error cannot host a session.
	for _, state := range []types.AgentState{
		types.StateProvisioning,
		types.StateStopping,
		types.StateError,
	} {
		if err := st.UpdateAgentError(ctx, agent.AgentID, state, ""); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.CreateSession(ctx, user, agent.AgentID); kindOf(t, err) != KindAgentNotRunnable {
			t.Errorf("state %v: err = %v, want agent not runnable", state, err)
		}
	}
}

func TestGetAndListSessions(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newTestService(t, 10)
	user := testOwner()
	agent := mustCreate(t, svc, user, "alpha")

	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateRunning); err != nil {
		t.Fatal(err)
	}
	first, err := svc.CreateSession(ctx, user, agent.AgentID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.CreateSession(ctx, user, agent.AgentID)
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetSession(ctx, user, first.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.SessionID != first.SessionID {
		t.Errorf("got %v, want %v", got.SessionID, first.SessionID)
	}

	if _, err := svc.GetSession(ctx, otherUser(), first.SessionID); kindOf(t, err) != KindNotOwner {
		t.Errorf("foreign get: err = %v, want not owner", err)
	}
	if _, err := svc.GetSession(ctx, user, ids.NewSessionID()); kindOf(t, err) != KindSessionNotFound {
		t.Errorf("missing get: err = %v, want session not found", err)
	}

	sessions, err := svc.ListSessions(ctx, user, agent.AgentID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2", len(sessions))
	}
	seen := map[ids.SessionID]bool{}
	for _, sess := range sessions {
		seen[sess.SessionID] = true
	}
	if !seen[first.SessionID] || !seen[second.SessionID] {
		t.Errorf("list missing a session: %v", seen)
	}
}

func TestCloseSessionDemotesIdleAgent(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newTestService(t, 10)
	user := testOwner()
	agent := mustCreate(t, svc, user, "alpha")

	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateRunning); err != nil {
		t.Fatal(err)
	}
	first, err := svc.CreateSession(ctx, user, agent.AgentID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.CreateSession(ctx, user, agent.AgentID)
	if err != nil {
		t.Fatal(err)
	}

	// One of two sessions closes: agent stays Running.
	if err := svc.CloseSession(ctx, user, first.SessionID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	got, _ := st.GetAgent(ctx, agent.AgentID)
	if got.Status != types.StateRunning {
		t.Errorf("status = %v, want running while a session remains", got.Status)
	}

	// The last one closes: agent goes Idle.
	if err := svc.CloseSession(ctx, user, second.SessionID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	got, _ = st.GetAgent(ctx, agent.AgentID)
	if got.Status != types.StateIdle {
		t.Errorf("status = %v, want idle after last session", got.Status)
	}

	closed, _ := st.GetSession(ctx, first.SessionID)
	if closed.Status != types.SessionClosed || closed.ClosedAt == nil {
		t.Errorf("closed session = %+v", closed)
	}
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newTestService(t, 10)
	user := testOwner()
	agent := mustCreate(t, svc, user, "alpha")

	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateRunning); err != nil {
		t.Fatal(err)
	}
	sess, err := svc.CreateSession(ctx, user, agent.AgentID)
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.CloseSession(ctx, user, sess.SessionID); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := svc.CloseSession(ctx, user, sess.SessionID); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestHibernateClosesSessions(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newTestService(t, 10)
	user := testOwner()
	agent := mustCreate(t, svc, user, "alpha")

	if err := st.UpdateAgentStatus(ctx, agent.AgentID, types.StateRunning); err != nil {
		t.Fatal(err)
	}
	sess, err := svc.CreateSession(ctx, user, agent.AgentID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.HibernateAgent(ctx, user, agent.AgentID); err != nil {
		t.Fatalf("HibernateAgent: %v", err)
	}
	got, _ := st.GetSession(ctx, sess.SessionID)
	if got.Status != types.SessionClosed {
		t.Errorf("session status = %v, want closed", got.Status)
	}
}
