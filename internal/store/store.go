// Package store persists agents, conversations, and scheduled tasks. The
// default implementation keeps one JSON file per record under a base
// directory; callers only see the interfaces so a database can replace it
// later.
package store

import (
	"context"
	"errors"
	"time"

	"burrow/pkg/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// AgentStore manages agent definitions.
type AgentStore interface {
	Create(ctx context.Context, agent *types.Agent) error
	Get(ctx context.Context, id string) (*types.Agent, error)
	// GetByName resolves an agent by case-insensitive name.
	GetByName(ctx context.Context, name string) (*types.Agent, error)
	List(ctx context.Context) ([]*types.Agent, error)
	Update(ctx context.Context, agent *types.Agent) error
	Delete(ctx context.Context, id string) error
	// Orchestrator returns the single agent with IsOrchestrator set.
	Orchestrator(ctx context.Context) (*types.Agent, error)
}

// ConversationStore manages transcripts. At most one conversation per agent
// is active at a time.
type ConversationStore interface {
	// OpenActive returns the agent's active conversation, creating one if
	// none exists.
	OpenActive(ctx context.Context, agentID string) (*types.Conversation, error)
	Get(ctx context.Context, id string) (*types.Conversation, error)
	AppendTurn(ctx context.Context, id string, turn types.Turn) error
	// Summarize moves an active conversation to summarized and records the
	// summary text. The next OpenActive call starts a fresh transcript.
	Summarize(ctx context.Context, id string, summary string) error
	Archive(ctx context.Context, id string) error
	ListByAgent(ctx context.Context, agentID string) ([]*types.Conversation, error)
}

// TaskStore manages scheduled tasks.
type TaskStore interface {
	Create(ctx context.Context, task *types.ScheduledTask) error
	Get(ctx context.Context, id string) (*types.ScheduledTask, error)
	List(ctx context.Context) ([]*types.ScheduledTask, error)
	Update(ctx context.Context, task *types.ScheduledTask) error
	Delete(ctx context.Context, id string) error
	// Due returns active tasks whose next run is at or before now.
	Due(ctx context.Context, now time.Time) ([]*types.ScheduledTask, error)
}

// StateStore is a small KV bucket for host-side bookkeeping.
type StateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
