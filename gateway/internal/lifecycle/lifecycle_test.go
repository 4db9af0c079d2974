package lifecycle

import (
	"testing"

	"github.com/aura-swarm/swarm/pkg/types"
)

func TestValidTransitions(t *testing.T) {
	valid := []struct{ from, to types.AgentState }{
		{types.StateProvisioning, types.StateRunning},
		{types.StateProvisioning, types.StateError},
		{types.StateRunning, types.StateIdle},
		{types.StateRunning, types.StateHibernating},
		{types.StateRunning, types.StateStopping},
		{types.StateRunning, types.StateError},
		{types.StateIdle, types.StateRunning},
		{types.StateIdle, types.StateHibernating},
		{types.StateIdle, types.StateStopping},
		{types.StateIdle, types.StateError},
		{types.StateHibernating, types.StateRunning},
		{types.StateHibernating, types.StateProvisioning},
		{types.StateHibernating, types.StateStopping},
		{types.StateHibernating, types.StateError},
		{types.StateStopping, types.StateStopped},
		{types.StateStopping, types.StateError},
		{types.StateStopped, types.StateProvisioning},
		{types.StateError, types.StateStopped},
		{types.StateError, types.StateProvisioning},
	}
	for _, tc := range valid {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%v -> %v should be allowed", tc.from, tc.to)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	invalid := []struct{ from, to types.AgentState }{
		{types.StateProvisioning, types.StateIdle},
		{types.StateProvisioning, types.StateStopped},
		{types.StateRunning, types.StateProvisioning},
		{types.StateRunning, types.StateStopped},
		{types.StateIdle, types.StateStopped},
		{types.StateHibernating, types.StateStopped},
		{types.StateStopping, types.StateRunning},
		{types.StateStopping, types.StateProvisioning},
		{types.StateStopped, types.StateRunning},
		{types.StateStopped, types.StateStopping},
		{types.StateError, types.StateRunning},
		{types.StateRunning, types.StateRunning},
	}
	for _, tc := range invalid {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%v -> %v should be rejected", tc.from, tc.to)
		}
	}
}

func TestCanAcceptSessions(t *testing.T) {
	want := map[types.AgentState]bool{
		types.StateProvisioning: false,
		types.StateRunning:      true,
		types.StateIdle:         true,
		types.StateHibernating:  false,
		types.StateStopping:     false,
		types.StateStopped:      false,
		types.StateError:        false,
	}
	for s, exp := range want {
		if got := CanAcceptSessions(s); got != exp {
			t.Errorf("CanAcceptSessions(%v) = %v, want %v", s, got, exp)
		}
	}
}

func TestCanWake(t *testing.T) {
	for s := types.StateProvisioning; s <= types.StateError; s++ {
		exp := s == types.StateHibernating || s == types.StateStopped
		if got := CanWake(s); got != exp {
			t.Errorf("CanWake(%v) = %v, want %v", s, got, exp)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for s := types.StateProvisioning; s <= types.StateError; s++ {
		exp := s == types.StateStopped || s == types.StateError
		if got := IsTerminal(s); got != exp {
			t.Errorf("IsTerminal(%v) = %v, want %v", s, got, exp)
		}
	}
}

func TestIsActive(t *testing.T) {
	want := map[types.AgentState]bool{
		types.StateProvisioning: true,
		types.StateRunning:      true,
		types.StateIdle:         true,
		types.StateStopping:     true,
		types.StateHibernating:  false,
		types.StateStopped:      false,
		types.StateError:        false,
	}
	for s, exp := range want {
		if got := IsActive(s); got != exp {
			t.Errorf("IsActive(%v) = %v, want %v", s, got, exp)
		}
	}
}
