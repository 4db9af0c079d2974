package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

// PostgresStore implements Store on PostgreSQL. Records keep the same CBOR
// encoding as the embedded backend; the secondary indexes become indexed
// columns, and multi-key updates become row updates inside one statement or
// transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id BYTEA PRIMARY KEY,
			user_id BYTEA NOT NULL,
			status SMALLINT NOT NULL,
			record BYTEA NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_user_id ON agents(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id BYTEA PRIMARY KEY,
			agent_id BYTEA NOT NULL,
			record BYTEA NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent_id ON sessions(agent_id)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id BYTEA PRIMARY KEY,
			record BYTEA NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Agents ---

// PutAgent upserts the record; the indexed columns move with it atomically.
func (s *PostgresStore) PutAgent(ctx context.Context, a *types.Agent) error {
	record, err := cbor.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, user_id, status, record) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_id) DO UPDATE SET user_id = $2, status = $3, record = $4`,
		a.AgentID[:], a.UserID[:], int16(a.Status), record)
	return err
}

// GetAgent fetches an agent by id.
func (s *PostgresStore) GetAgent(ctx context.Context, id ids.AgentID) (*types.Agent, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM agents WHERE agent_id = $1`, id[:]).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	a := &types.Agent{}
	if err := cbor.Unmarshal(record, a); err != nil {
		return nil, fmt.Errorf("decode agent: %w", err)
	}
	return a, nil
}

// DeleteAgent removes the row.
func (s *PostgresStore) DeleteAgent(ctx context.Context, id ids.AgentID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = $1`, id[:])
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListAgentsByUser queries the user_id index.
func (s *PostgresStore) ListAgentsByUser(ctx context.Context, user ids.UserID) ([]*types.Agent, error) {
	return s.queryAgents(ctx, `SELECT record FROM agents WHERE user_id = $1 ORDER BY agent_id`, user[:])
}

// CountAgentsByUser counts the user's agents.
func (s *PostgresStore) CountAgentsByUser(ctx context.Context, user ids.UserID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE user_id = $1`, user[:]).Scan(&n)
	return n, err
}

// ListAgentsByStatus queries the status index.
func (s *PostgresStore) ListAgentsByStatus(ctx context.Context, status types.AgentState) ([]*types.Agent, error) {
	return s.queryAgents(ctx, `SELECT record FROM agents WHERE status = $1 ORDER BY agent_id`, int16(status))
}

// ListAllAgents returns every agent.
func (s *PostgresStore) ListAllAgents(ctx context.Context) ([]*types.Agent, error) {
	return s.queryAgents(ctx, `SELECT record FROM agents ORDER BY agent_id`)
}

func (s *PostgresStore) queryAgents(ctx context.Context, query string, args ...any) ([]*types.Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		a := &types.Agent{}
		if err := cbor.Unmarshal(record, a); err != nil {
			return nil, fmt.Errorf("decode agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgentStatus rewrites the agent with the new status.
func (s *PostgresStore) UpdateAgentStatus(ctx context.Context, id ids.AgentID, status types.AgentState) error {
	return s.mutateAgent(ctx, id, func(a *types.Agent) {
		a.Status = status
		a.UpdatedAt = time.Now().UTC()
	})
}

// UpdateAgentError moves the agent to status and records the message.
func (s *PostgresStore) UpdateAgentError(ctx context.Context, id ids.AgentID, status types.AgentState, msg string) error {
	return s.mutateAgent(ctx, id, func(a *types.Agent) {
		a.Status = status
		a.ErrorMessage = msg
		a.UpdatedAt = time.Now().UTC()
	})
}

// UpdateAgentHeartbeat stamps last_heartbeat_at.
func (s *PostgresStore) UpdateAgentHeartbeat(ctx context.Context, id ids.AgentID) error {
	return s.mutateAgent(ctx, id, func(a *types.Agent) {
		now := time.Now().UTC()
		a.LastHeartbeatAt = &now
		a.UpdatedAt = now
	})
}

func (s *PostgresStore) mutateAgent(ctx context.Context, id ids.AgentID, mutate func(*types.Agent)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var record []byte
	err = tx.QueryRowContext(ctx, `SELECT record FROM agents WHERE agent_id = $1 FOR UPDATE`, id[:]).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	var a types.Agent
	if err := cbor.Unmarshal(record, &a); err != nil {
		return fmt.Errorf("decode agent: %w", err)
	}

	mutate(&a)

	record, err = cbor.Marshal(&a)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE agents SET status = $2, record = $3 WHERE agent_id = $1`,
		id[:], int16(a.Status), record); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Sessions ---

// PutSession upserts the session row.
func (s *PostgresStore) PutSession(ctx context.Context, sess *types.Session) error {
	record, err := cbor.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, agent_id, record) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET agent_id = $2, record = $3`,
		sess.SessionID[:], sess.AgentID[:], record)
	return err
}

// GetSession fetches a session by id.
func (s *PostgresStore) GetSession(ctx context.Context, id ids.SessionID) (*types.Session, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM sessions WHERE session_id = $1`, id[:]).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	sess := &types.Session{}
	if err := cbor.Unmarshal(record, sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// DeleteSession removes the row.
func (s *PostgresStore) DeleteSession(ctx context.Context, id ids.SessionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, id[:])
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListSessionsByAgent queries the agent_id index.
func (s *PostgresStore) ListSessionsByAgent(ctx context.Context, agent ids.AgentID) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM sessions WHERE agent_id = $1 ORDER BY session_id`, agent[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		sess := &types.Session{}
		if err := cbor.Unmarshal(record, sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSessionStatus rewrites the session status; closing stamps closed_at.
func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, id ids.SessionID, status types.SessionStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var record []byte
	err = tx.QueryRowContext(ctx, `SELECT record FROM sessions WHERE session_id = $1 FOR UPDATE`, id[:]).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	var sess types.Session
	if err := cbor.Unmarshal(record, &sess); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	sess.Status = status
	if status == types.SessionClosed && sess.ClosedAt == nil {
		now := time.Now().UTC()
		sess.ClosedAt = &now
	}
	record, err = cbor.Marshal(&sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET record = $2 WHERE session_id = $1`, id[:], record); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Users ---

// PutUser upserts the user row.
func (s *PostgresStore) PutUser(ctx context.Context, u *types.User) error {
	record, err := cbor.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, record) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET record = $2`,
		u.UserID[:], record)
	return err
}

// GetUser fetches a user by id.
func (s *PostgresStore) GetUser(ctx context.Context, id ids.UserID) (*types.User, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM users WHERE user_id = $1`, id[:]).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	u := &types.User{}
	if err := cbor.Unmarshal(record, u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}
