// Package store owns all durable control-plane state: agents, sessions,
// users and the secondary indexes over them. Two backends implement the same
// interface: an embedded bbolt database and Postgres.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

// ErrNotFound is wrapped by all lookup misses.
var ErrNotFound = errors.New("not found")

// Store is the durable state interface. Multi-key updates (primary record
// plus index entries) are atomic: a reader sees either the full pre-state or
// the full post-state.
type Store interface {
	PutAgent(ctx context.Context, a *types.Agent) error
	GetAgent(ctx context.Context, id ids.AgentID) (*types.Agent, error)
	DeleteAgent(ctx context.Context, id ids.AgentID) error
	ListAgentsByUser(ctx context.Context, user ids.UserID) ([]*types.Agent, error)
	CountAgentsByUser(ctx context.Context, user ids.UserID) (int, error)
	ListAgentsByStatus(ctx context.Context, s types.AgentState) ([]*types.Agent, error)
	ListAllAgents(ctx context.Context) ([]*types.Agent, error)
	UpdateAgentStatus(ctx context.Context, id ids.AgentID, s types.AgentState) error
	UpdateAgentError(ctx context.Context, id ids.AgentID, s types.AgentState, msg string) error
	UpdateAgentHeartbeat(ctx context.Context, id ids.AgentID) error

	PutSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id ids.SessionID) (*types.Session, error)
	DeleteSession(ctx context.Context, id ids.SessionID) error
	ListSessionsByAgent(ctx context.Context, agent ids.AgentID) ([]*types.Session, error)
	UpdateSessionStatus(ctx context.Context, id ids.SessionID, s types.SessionStatus) error

	PutUser(ctx context.Context, u *types.User) error
	GetUser(ctx context.Context, id ids.UserID) (*types.User, error)

	Close() error
}

// Config selects and parameterizes the backend.
type Config struct {
	// DataDir is the bbolt database directory.
	DataDir string
	// DatabaseURL switches to the Postgres backend when non-empty.
	DatabaseURL string
}

// Open creates the store backend selected by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.DatabaseURL != "" {
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("store: data_dir is required without database_url")
	}
	return NewBoltStore(cfg.DataDir)
}
