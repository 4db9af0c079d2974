package store

import (
	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

// Index key layouts. These are bit-exact and persisted; do not change.
//
//	agents:            agent_id (32B) -> CBOR(Agent)
//	by_user:           user_id (32B) || agent_id (32B) -> ""
//	by_status:         status  (1B)  || agent_id (32B) -> ""
//	sessions:          uuid (16B) -> CBOR(Session)
//	sessions_by_agent: agent_id (32B) || uuid (16B) -> ""

func byUserKey(user ids.UserID, agent ids.AgentID) []byte {
	k := make([]byte, 0, 2*ids.Size)
	k = append(k, user[:]...)
	return append(k, agent[:]...)
}

func byStatusKey(s types.AgentState, agent ids.AgentID) []byte {
	k := make([]byte, 0, 1+ids.Size)
	k = append(k, byte(s))
	return append(k, agent[:]...)
}

func sessionsByAgentKey(agent ids.AgentID, session ids.SessionID) []byte {
	k := make([]byte, 0, ids.Size+16)
	k = append(k, agent[:]...)
	return append(k, session[:]...)
}

// agentIDFromUserKey extracts the agent id from a by_user index key.
func agentIDFromUserKey(k []byte) (ids.AgentID, bool) {
	if len(k) != 2*ids.Size {
		return ids.AgentID{}, false
	}
	var id ids.AgentID
	copy(id[:], k[ids.Size:])
	return id, true
}

// agentIDFromStatusKey extracts the agent id from a by_status index key.
func agentIDFromStatusKey(k []byte) (ids.AgentID, bool) {
	if len(k) != 1+ids.Size {
		return ids.AgentID{}, false
	}
	var id ids.AgentID
	copy(id[:], k[1:])
	return id, true
}

// sessionIDFromAgentKey extracts the session uuid from a sessions_by_agent
// index key.
func sessionIDFromAgentKey(k []byte) (ids.SessionID, bool) {
	if len(k) != ids.Size+16 {
		return ids.SessionID{}, false
	}
	var id ids.SessionID
	copy(id[:], k[ids.Size:])
	return id, true
}
