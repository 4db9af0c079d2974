package store

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

func TestByUserKeyLayout(t *testing.T) {
	user := testUser(0xaa)
	agent := ids.DeterministicAgentID(user, "alpha", 1)

	k := byUserKey(user, agent)
	if len(k) != 64 {
		t.Fatalf("key length = %d, want 64", len(k))
	}
	if !bytes.Equal(k[:32], user[:]) || !bytes.Equal(k[32:], agent[:]) {
		t.Error("key is not user_id || agent_id")
	}

	got, ok := agentIDFromUserKey(k)
	if !ok || got != agent {
		t.Error("agent id extraction failed")
	}
}

func TestByStatusKeyLayout(t *testing.T) {
	agent := ids.DeterministicAgentID(testUser(1), "alpha", 1)

	k := byStatusKey(types.StateHibernating, agent)
	if len(k) != 33 {
		t.Fatalf("key length = %d, want 33", len(k))
	}
	if k[0] != 4 {
		t.Errorf("status byte = %d, want 4 (hibernating)", k[0])
	}
	if !bytes.Equal(k[1:], agent[:]) {
		t.Error("key tail is not the agent id")
	}

	got, ok := agentIDFromStatusKey(k)
	if !ok || got != agent {
		t.Error("agent id extraction failed")
	}
}

func TestSessionsByAgentKeyLayout(t *testing.T) {
	agent := ids.DeterministicAgentID(testUser(1), "alpha", 1)
	session := uuid.New()

	k := sessionsByAgentKey(agent, session)
	if len(k) != 48 {
		t.Fatalf("key length = %d, want 48", len(k))
	}
	if !bytes.Equal(k[:32], agent[:]) || !bytes.Equal(k[32:], session[:]) {
		t.Error("key is not agent_id || session_uuid")
	}

	got, ok := sessionIDFromAgentKey(k)
	if !ok || got != session {
		t.Error("session id extraction failed")
	}
}

func TestExtractorsRejectShortKeys(t *testing.T) {
	if _, ok := agentIDFromUserKey(make([]byte, 63)); ok {
		t.Error("accepted short by_user key")
	}
	if _, ok := agentIDFromStatusKey(make([]byte, 32)); ok {
		t.Error("accepted short by_status key")
	}
	if _, ok := sessionIDFromAgentKey(make([]byte, 47)); ok {
		t.Error("accepted short sessions_by_agent key")
	}
}
