package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

var (
	bucketAgents          = []byte("agents")
	bucketByUser          = []byte("by_user")
	bucketByStatus        = []byte("by_status")
	bucketSessions        = []byte("sessions")
	bucketSessionsByAgent = []byte("sessions_by_agent")
	bucketUsers           = []byte("users")
	bucketMeta            = []byte("meta")

	keySchemaVersion = []byte("schema_version")
)

// schemaVersion guards the CBOR layout and the state tag numbering. Bump it
// together with a migration when either changes.
const schemaVersion = 1

// BoltStore is the embedded bbolt backend. All index maintenance happens
// inside a single update transaction, which gives the atomic multi-key batch
// the interface requires.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, "swarm.db"), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketAgents, bucketByUser, bucketByStatus,
			bucketSessions, bucketSessionsByAgent, bucketUsers, bucketMeta,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchemaVersion); v == nil {
			return meta.Put(keySchemaVersion, []byte{schemaVersion})
		} else if len(v) != 1 || v[0] != schemaVersion {
			return fmt.Errorf("unsupported schema version %v (want %d)", v, schemaVersion)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Agents ---

// PutAgent writes the primary record and both index entries. A prior record
// with a different status has its old by_status entry removed in the same
// transaction.
func (s *BoltStore) PutAgent(_ context.Context, a *types.Agent) error {
	val, err := cbor.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		agents := tx.Bucket(bucketAgents)

		if old := agents.Get(a.AgentID[:]); old != nil {
			var prev types.Agent
			if err := cbor.Unmarshal(old, &prev); err != nil {
				return fmt.Errorf("decode prior agent: %w", err)
			}
			if prev.Status != a.Status {
				if err := tx.Bucket(bucketByStatus).Delete(byStatusKey(prev.Status, a.AgentID)); err != nil {
					return err
				}
			}
		}

		if err := agents.Put(a.AgentID[:], val); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByUser).Put(byUserKey(a.UserID, a.AgentID), nil); err != nil {
			return err
		}
		return tx.Bucket(bucketByStatus).Put(byStatusKey(a.Status, a.AgentID), nil)
	})
}

// GetAgent fetches an agent by id.
func (s *BoltStore) GetAgent(_ context.Context, id ids.AgentID) (*types.Agent, error) {
	var a *types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAgents).Get(id[:])
		if v == nil {
			return fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		a = &types.Agent{}
		return cbor.Unmarshal(v, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteAgent removes the primary record and both index entries.
func (s *BoltStore) DeleteAgent(_ context.Context, id ids.AgentID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		agents := tx.Bucket(bucketAgents)
		v := agents.Get(id[:])
		if v == nil {
			return fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		var a types.Agent
		if err := cbor.Unmarshal(v, &a); err != nil {
			return fmt.Errorf("decode agent: %w", err)
		}

		if err := agents.Delete(id[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByUser).Delete(byUserKey(a.UserID, id)); err != nil {
			return err
		}
		return tx.Bucket(bucketByStatus).Delete(byStatusKey(a.Status, id))
	})
}

// ListAgentsByUser prefix-scans the by_user index.
func (s *BoltStore) ListAgentsByUser(_ context.Context, user ids.UserID) ([]*types.Agent, error) {
	var out []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		agents := tx.Bucket(bucketAgents)
		c := tx.Bucket(bucketByUser).Cursor()
		prefix := user[:]
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id, ok := agentIDFromUserKey(k)
			if !ok {
				continue
			}
			v := agents.Get(id[:])
			if v == nil {
				// Dangling index entry; self-heals on the next write.
				continue
			}
			a := &types.Agent{}
			if err := cbor.Unmarshal(v, a); err != nil {
				return fmt.Errorf("decode agent: %w", err)
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountAgentsByUser counts by_user index entries for the user.
func (s *BoltStore) CountAgentsByUser(_ context.Context, user ids.UserID) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByUser).Cursor()
		prefix := user[:]
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ListAgentsByStatus prefix-scans the by_status index.
func (s *BoltStore) ListAgentsByStatus(_ context.Context, status types.AgentState) ([]*types.Agent, error) {
	var out []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		agents := tx.Bucket(bucketAgents)
		c := tx.Bucket(bucketByStatus).Cursor()
		prefix := []byte{byte(status)}
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id, ok := agentIDFromStatusKey(k)
			if !ok {
				continue
			}
			v := agents.Get(id[:])
			if v == nil {
				continue
			}
			a := &types.Agent{}
			if err := cbor.Unmarshal(v, a); err != nil {
				return fmt.Errorf("decode agent: %w", err)
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAllAgents scans the primary bucket.
func (s *BoltStore) ListAllAgents(_ context.Context) ([]*types.Agent, error) {
	var out []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(_, v []byte) error {
			a := &types.Agent{}
			if err := cbor.Unmarshal(v, a); err != nil {
				return fmt.Errorf("decode agent: %w", err)
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAgentStatus rewrites the agent with the new status and a fresh
// updated_at.
func (s *BoltStore) UpdateAgentStatus(ctx context.Context, id ids.AgentID, status types.AgentState) error {
	return s.mutateAgent(id, func(a *types.Agent) {
		a.Status = status
		a.UpdatedAt = time.Now().UTC()
	})
}

// UpdateAgentError moves the agent to status and records the message.
func (s *BoltStore) UpdateAgentError(ctx context.Context, id ids.AgentID, status types.AgentState, msg string) error {
	return s.mutateAgent(id, func(a *types.Agent) {
		a.Status = status
		a.ErrorMessage = msg
		a.UpdatedAt = time.Now().UTC()
	})
}

// UpdateAgentHeartbeat stamps last_heartbeat_at without a state change.
func (s *BoltStore) UpdateAgentHeartbeat(ctx context.Context, id ids.AgentID) error {
	return s.mutateAgent(id, func(a *types.Agent) {
		now := time.Now().UTC()
		a.LastHeartbeatAt = &now
		a.UpdatedAt = now
	})
}

func (s *BoltStore) mutateAgent(id ids.AgentID, mutate func(*types.Agent)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		agents := tx.Bucket(bucketAgents)
		v := agents.Get(id[:])
		if v == nil {
			return fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		var a types.Agent
		if err := cbor.Unmarshal(v, &a); err != nil {
			return fmt.Errorf("decode agent: %w", err)
		}

		oldStatus := a.Status
		mutate(&a)

		val, err := cbor.Marshal(&a)
		if err != nil {
			return fmt.Errorf("encode agent: %w", err)
		}
		if err := agents.Put(id[:], val); err != nil {
			return err
		}
		if a.Status != oldStatus {
			byStatus := tx.Bucket(bucketByStatus)
			if err := byStatus.Delete(byStatusKey(oldStatus, id)); err != nil {
				return err
			}
			return byStatus.Put(byStatusKey(a.Status, id), nil)
		}
		return nil
	})
}

// --- Sessions ---

// PutSession writes the primary record and the sessions_by_agent entry.
func (s *BoltStore) PutSession(_ context.Context, sess *types.Session) error {
	val, err := cbor.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSessions).Put(sess.SessionID[:], val); err != nil {
			return err
		}
		return tx.Bucket(bucketSessionsByAgent).Put(sessionsByAgentKey(sess.AgentID, sess.SessionID), nil)
	})
}

// GetSession fetches a session by id.
func (s *BoltStore) GetSession(_ context.Context, id ids.SessionID) (*types.Session, error) {
	var sess *types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessions).Get(id[:])
		if v == nil {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		sess = &types.Session{}
		return cbor.Unmarshal(v, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes the primary record and its index entry.
func (s *BoltStore) DeleteSession(_ context.Context, id ids.SessionID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		v := sessions.Get(id[:])
		if v == nil {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		var sess types.Session
		if err := cbor.Unmarshal(v, &sess); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if err := sessions.Delete(id[:]); err != nil {
			return err
		}
		return tx.Bucket(bucketSessionsByAgent).Delete(sessionsByAgentKey(sess.AgentID, id))
	})
}

// ListSessionsByAgent prefix-scans the sessions_by_agent index.
func (s *BoltStore) ListSessionsByAgent(_ context.Context, agent ids.AgentID) ([]*types.Session, error) {
	var out []*types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		c := tx.Bucket(bucketSessionsByAgent).Cursor()
		prefix := agent[:]
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id, ok := sessionIDFromAgentKey(k)
			if !ok {
				continue
			}
			v := sessions.Get(id[:])
			if v == nil {
				continue
			}
			sess := &types.Session{}
			if err := cbor.Unmarshal(v, sess); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			out = append(out, sess)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSessionStatus rewrites the session status; closing stamps closed_at.
func (s *BoltStore) UpdateSessionStatus(_ context.Context, id ids.SessionID, status types.SessionStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		v := sessions.Get(id[:])
		if v == nil {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		var sess types.Session
		if err := cbor.Unmarshal(v, &sess); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		sess.Status = status
		if status == types.SessionClosed && sess.ClosedAt == nil {
			now := time.Now().UTC()
			sess.ClosedAt = &now
		}
		val, err := cbor.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		return sessions.Put(id[:], val)
	})
}

// --- Users ---

// PutUser writes the user record.
func (s *BoltStore) PutUser(_ context.Context, u *types.User) error {
	val, err := cbor.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Put(u.UserID[:], val)
	})
}

// GetUser fetches a user by id.
func (s *BoltStore) GetUser(_ context.Context, id ids.UserID) (*types.User, error) {
	var u *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUsers).Get(id[:])
		if v == nil {
			return fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		u = &types.User{}
		return cbor.Unmarshal(v, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
