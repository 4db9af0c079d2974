package ids

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseUserIDRoundTrip(t *testing.T) {
	want := strings.Repeat("ab", 32)
	id, err := ParseUserID(want)
	if err != nil {
		t.Fatalf("ParseUserID(%q): %v", want, err)
	}
	if got := id.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseUserIDRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"abcd",
		strings.Repeat("ab", 31),
		strings.Repeat("zz", 32),
		strings.Repeat("ab", 33),
	}
	for _, c := range cases {
		if _, err := ParseUserID(c); err == nil {
			t.Errorf("ParseUserID(%q): expected error", c)
		}
	}
}

func TestDeterministicAgentID(t *testing.T) {
	user := UserIDFromIdentity(uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"))

	a := DeterministicAgentID(user, "alpha", 1)
	b := DeterministicAgentID(user, "alpha", 1)
	if a != b {
		t.Error("same inputs produced different agent IDs")
	}

	if DeterministicAgentID(user, "alpha", 2) == a {
		t.Error("different seeds produced the same agent ID")
	}
	if DeterministicAgentID(user, "beta", 1) == a {
		t.Error("different names produced the same agent ID")
	}
}

func TestNewAgentIDUsesTimestamp(t *testing.T) {
	user := UserIDFromIdentity(uuid.New())
	t0 := time.Now()

	a := NewAgentID(user, "alpha", t0)
	b := NewAgentID(user, "alpha", t0.Add(time.Nanosecond))
	if a == b {
		t.Error("different timestamps produced the same agent ID")
	}
}

func TestUserIDFromIdentityIsStable(t *testing.T) {
	identity := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	if UserIDFromIdentity(identity) != UserIDFromIdentity(identity) {
		t.Error("identity derivation is not deterministic")
	}
}

func TestAgentIDTextMarshalling(t *testing.T) {
	user := UserIDFromIdentity(uuid.New())
	id := DeterministicAgentID(user, "alpha", 7)

	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var back AgentID
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back != id {
		t.Errorf("round trip mismatch: %s != %s", back, id)
	}
}

func TestAgentIDBinaryMarshalling(t *testing.T) {
	user := UserIDFromIdentity(uuid.New())
	id := DeterministicAgentID(user, "alpha", 9)

	raw, err := id.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(raw) != Size {
		t.Fatalf("binary form is %d bytes, want %d", len(raw), Size)
	}
	var back AgentID
	if err := back.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if back != id {
		t.Error("binary round trip mismatch")
	}

	if err := back.UnmarshalBinary(raw[:16]); err == nil {
		t.Error("expected error for short input")
	}
}
