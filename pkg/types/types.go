// Package types holds the data model shared between the gateway and the
// scheduler: agents, sessions, users and their state enums.
//
// State enums carry stable numeric tags. The tags are persisted inside store
// index keys and in CBOR values, so they must never be renumbered.
package types

import (
	"fmt"
	"time"

	"github.com/aura-swarm/swarm/pkg/ids"
)

// AgentState is the lifecycle state of an agent.
type AgentState uint8

const (
	StateProvisioning AgentState = 1
	StateRunning      AgentState = 2
	StateIdle         AgentState = 3
	StateHibernating  AgentState = 4
	StateStopping     AgentState = 5
	StateStopped      AgentState = 6
	StateError        AgentState = 7
)

var stateNames = map[AgentState]string{
	StateProvisioning: "provisioning",
	StateRunning:      "running",
	StateIdle:         "idle",
	StateHibernating:  "hibernating",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
	StateError:        "error",
}

// Valid reports whether s is one of the seven known states.
func (s AgentState) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

func (s AgentState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MarshalText renders the state by name for JSON surfaces. Binary codecs use
// the numeric tag directly.
func (s AgentState) MarshalText() ([]byte, error) {
	n, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid agent state %d", uint8(s))
	}
	return []byte(n), nil
}

// UnmarshalText parses a state name.
func (s *AgentState) UnmarshalText(b []byte) error {
	for tag, n := range stateNames {
		if n == string(b) {
			*s = tag
			return nil
		}
	}
	return fmt.Errorf("invalid agent state %q", string(b))
}

// SessionStatus is the state of a streaming session.
type SessionStatus uint8

const (
	SessionActive SessionStatus = 1
	SessionClosed SessionStatus = 2
)

func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MarshalText renders the status by name.
func (s SessionStatus) MarshalText() ([]byte, error) {
	switch s {
	case SessionActive, SessionClosed:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("invalid session status %d", uint8(s))
}

// UnmarshalText parses a status name.
func (s *SessionStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = SessionActive
	case "closed":
		*s = SessionClosed
	default:
		return fmt.Errorf("invalid session status %q", string(b))
	}
	return nil
}

// IsolationLevel selects the pod runtime sandbox.
type IsolationLevel string

const (
	IsolationContainer IsolationLevel = "container"
	IsolationMicroVM   IsolationLevel = "microvm"
)

// RuntimeClass returns the Kubernetes runtime class for the isolation level,
// or "" for the cluster default.
func (l IsolationLevel) RuntimeClass() string {
	if l == IsolationMicroVM {
		return "kata-fc"
	}
	return ""
}

// AgentSpec is the resource request for an agent pod.
type AgentSpec struct {
	CPUMillicores  uint32         `json:"cpu_millicores"`
	MemoryMB       uint32         `json:"memory_mb"`
	RuntimeVersion string         `json:"runtime_version"`
	Isolation      IsolationLevel `json:"isolation,omitempty"`
}

// DefaultSpec returns the spec applied when a create request omits one.
func DefaultSpec() AgentSpec {
	return AgentSpec{
		CPUMillicores:  500,
		MemoryMB:       512,
		RuntimeVersion: "latest",
		Isolation:      IsolationMicroVM,
	}
}

// Agent is a user-owned logical compute entity, backed by at most one pod
// when active.
type Agent struct {
	AgentID         ids.AgentID `json:"agent_id"`
	UserID          ids.UserID  `json:"user_id"`
	Name            string      `json:"name"`
	Status          AgentState  `json:"status"`
	Spec            AgentSpec   `json:"spec"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	LastHeartbeatAt *time.Time  `json:"last_heartbeat_at,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

// Session is an authenticated bidirectional channel from a client to an
// agent.
type Session struct {
	SessionID ids.SessionID `json:"session_id"`
	AgentID   ids.AgentID   `json:"agent_id"`
	UserID    ids.UserID    `json:"user_id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
}

// User is a platform account as derived from the identity provider.
type User struct {
	UserID        ids.UserID `json:"user_id"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}
