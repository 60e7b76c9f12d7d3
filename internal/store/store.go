// Package store defines the persistence interfaces for sessions and todo
// lists, with file, Postgres, and SQLite backends in subpackages.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// SessionStore persists full session snapshots.
type SessionStore interface {
	SaveSession(ctx context.Context, s *memory.Session) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	LoadSessions(ctx context.Context) ([]*memory.Session, error)
}

// TodoStore persists the one todo list each session owns.
type TodoStore interface {
	SaveTodoList(ctx context.Context, sessionID uuid.UUID, list *protocol.TodoList) error
	// GetTodoList returns nil, nil when the session has no list.
	GetTodoList(ctx context.Context, sessionID uuid.UUID) (*protocol.TodoList, error)
	DeleteTodoList(ctx context.Context, sessionID uuid.UUID) error
	LoadTodoLists(ctx context.Context) (map[uuid.UUID]*protocol.TodoList, error)
}

// Stores bundles all storage backends behind one handle.
type Stores struct {
	Sessions SessionStore
	Todos    TodoStore

	closer func() error
}

// WithCloser attaches a shutdown hook (e.g. the underlying *sql.DB).
func (s *Stores) WithCloser(fn func() error) *Stores {
	s.closer = fn
	return s
}

// Close releases backend resources.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
