// Package ids defines the identifier types shared by the swarm services.
//
// UserID and AgentID are 32 opaque bytes rendered as lowercase hex. Session
// identifiers are plain UUIDs. The byte forms are used verbatim as store keys,
// so their width is load-bearing.
package ids

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Size is the width in bytes of UserID and AgentID.
const Size = 32

// UserID identifies a platform user. It is derived from the identity
// provider's UUID, never assigned directly.
type UserID [Size]byte

// AgentID identifies an agent.
type AgentID [Size]byte

// SessionID identifies a streaming session.
type SessionID = uuid.UUID

// NewSessionID returns a random session identifier.
func NewSessionID() SessionID {
	return uuid.New()
}

// UserIDFromIdentity derives the stable UserID for an identity-provider UUID.
func UserIDFromIdentity(identity uuid.UUID) UserID {
	return UserID(blake2b.Sum256(identity[:]))
}

// NewAgentID generates an AgentID from the owner, the agent name and a
// creation timestamp.
func NewAgentID(user UserID, name string, at time.Time) AgentID {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	return hashAgentID(user, name, ts[:])
}

// DeterministicAgentID generates a reproducible AgentID from a fixed seed.
// Intended for tests.
func DeterministicAgentID(user UserID, name string, seed uint64) AgentID {
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seed)
	return hashAgentID(user, name, s[:])
}

func hashAgentID(user UserID, name string, tail []byte) AgentID {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // unkeyed blake2b cannot fail
	}
	h.Write(user[:])
	h.Write([]byte(name))
	h.Write(tail)
	var id AgentID
	h.Sum(id[:0])
	return id
}

func (u UserID) String() string { return hex.EncodeToString(u[:]) }

func (a AgentID) String() string { return hex.EncodeToString(a[:]) }

// ParseUserID parses a 64-character lowercase hex string.
func ParseUserID(s string) (UserID, error) {
	var id UserID
	if err := parseHex32(s, id[:]); err != nil {
		return UserID{}, fmt.Errorf("user id: %w", err)
	}
	return id, nil
}

// ParseAgentID parses a 64-character lowercase hex string.
func ParseAgentID(s string) (AgentID, error) {
	var id AgentID
	if err := parseHex32(s, id[:]); err != nil {
		return AgentID{}, fmt.Errorf("agent id: %w", err)
	}
	return id, nil
}

func parseHex32(s string, dst []byte) error {
	if len(s) != Size*2 {
		return fmt.Errorf("expected %d hex characters, got %d", Size*2, len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return err
	}
	return nil
}

// MarshalText renders the ID as lowercase hex.
func (u UserID) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

// UnmarshalText parses a lowercase hex ID.
func (u *UserID) UnmarshalText(b []byte) error {
	id, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*u = id
	return nil
}

// MarshalText renders the ID as lowercase hex.
func (a AgentID) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText parses a lowercase hex ID.
func (a *AgentID) UnmarshalText(b []byte) error {
	id, err := ParseAgentID(string(b))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// MarshalBinary returns the raw 32 bytes. Binary codecs store IDs compactly;
// text codecs get hex via MarshalText.
func (u UserID) MarshalBinary() ([]byte, error) { return u[:], nil }

// UnmarshalBinary restores the ID from its raw 32 bytes.
func (u *UserID) UnmarshalBinary(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("user id: expected %d bytes, got %d", Size, len(b))
	}
	copy(u[:], b)
	return nil
}

// MarshalBinary returns the raw 32 bytes.
func (a AgentID) MarshalBinary() ([]byte, error) { return a[:], nil }

// UnmarshalBinary restores the ID from its raw 32 bytes.
func (a *AgentID) UnmarshalBinary(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("agent id: expected %d bytes, got %d", Size, len(b))
	}
	copy(a[:], b)
	return nil
}
