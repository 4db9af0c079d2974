package control

import (
	"fmt"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

// Kind tags a control-plane failure so the gateway can map it to an HTTP
// status without string matching.
type Kind int

const (
	KindAgentNotFound Kind = iota + 1
	KindSessionNotFound
	KindQuotaExceeded
	KindNotOwner
	KindInvalidState
	KindAgentNotRunnable
	KindStoreBackend
	KindInternal
)

// Error is the control-plane error type surfaced to the gateway.
type Error struct {
	Kind Kind
	// Limit is set for KindQuotaExceeded.
	Limit int
	// From and To are set for KindInvalidState.
	From, To types.AgentState
	msg      string
	err      error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func errAgentNotFound(id ids.AgentID) *Error {
	return &Error{Kind: KindAgentNotFound, msg: fmt.Sprintf("agent %s not found", id)}
}

func errSessionNotFound(id ids.SessionID) *Error {
	return &Error{Kind: KindSessionNotFound, msg: fmt.Sprintf("session %s not found", id)}
}

func errQuotaExceeded(limit int) *Error {
	return &Error{Kind: KindQuotaExceeded, Limit: limit, msg: fmt.Sprintf("agent quota exceeded: limit is %d", limit)}
}

func errNotOwner() *Error {
	return &Error{Kind: KindNotOwner, msg: "caller does not own this resource"}
}

func errInvalidState(from, to types.AgentState) *Error {
	return &Error{
		Kind: KindInvalidState, From: from, To: to,
		msg: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func errAgentNotRunnable(id ids.AgentID) *Error {
	return &Error{Kind: KindAgentNotRunnable, msg: fmt.Sprintf("agent %s is not in a runnable state", id)}
}

func errStore(op string, err error) *Error {
	return &Error{Kind: KindStoreBackend, msg: op, err: err}
}

func errInternal(op string, err error) *Error {
	return &Error{Kind: KindInternal, msg: op, err: err}
}
