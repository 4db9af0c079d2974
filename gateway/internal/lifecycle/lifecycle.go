// Package lifecycle is the pure agent state machine: which transitions are
// legal and which predicates derive from a state. It performs no I/O.
package lifecycle

import "github.com/aura-swarm/swarm/pkg/types"

var transitions = map[types.AgentState][]types.AgentState{
	types.StateProvisioning: {types.StateRunning, types.StateError},
	types.StateRunning:      {types.StateIdle, types.StateHibernating, types.StateStopping, types.StateError},
	types.StateIdle:         {types.StateRunning, types.StateHibernating, types.StateStopping, types.StateError},
	types.StateHibernating:  {types.StateRunning, types.StateProvisioning, types.StateStopping, types.StateError},
	types.StateStopping:     {types.StateStopped, types.StateError},
	types.StateStopped:      {types.StateProvisioning},
	types.StateError:        {types.StateStopped, types.StateProvisioning},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to types.AgentState) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CanAcceptSessions reports whether new sessions may bind without a state
// change.
func CanAcceptSessions(s types.AgentState) bool {
	return s == types.StateRunning || s == types.StateIdle
}

// CanWake reports whether a wake request is meaningful for the state.
func CanWake(s types.AgentState) bool {
	return s == types.StateHibernating || s == types.StateStopped
}

// IsTerminal reports whether the agent may be deleted.
func IsTerminal(s types.AgentState) bool {
	return s == types.StateStopped || s == types.StateError
}

// IsActive reports whether the agent is expected to have (or be getting) a
// pod.
func IsActive(s types.AgentState) bool {
	switch s {
	case types.StateProvisioning, types.StateRunning, types.StateIdle, types.StateStopping:
		return true
	}
	return false
}
