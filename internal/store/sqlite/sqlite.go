// Package sqlite is the embedded single-file backend, using the pure-Go
// modernc driver. The schema is created on open; no migration step needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/store"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT,
    messages TEXT NOT NULL DEFAULT '[]',
    summary TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions (updated_at DESC);

CREATE TABLE IF NOT EXISTS todo_lists (
    session_id TEXT PRIMARY KEY,
    list TEXT NOT NULL,
    revision INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP NOT NULL
);
`

// Stores implements store.SessionStore and store.TodoStore on SQLite.
type Stores struct {
	db *sql.DB
}

// New opens (creating if needed) the database file and ensures the schema.
func New(path string) (*store.Stores, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Serialize access through one connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	s := &Stores{db: db}
	out := &store.Stores{Sessions: s, Todos: s}
	return out.WithCloser(db.Close), nil
}

func (s *Stores) SaveSession(ctx context.Context, session *memory.Session) error {
	msgsJSON, err := json.Marshal(session.Messages)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, messages, summary, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			messages = excluded.messages,
			summary = excluded.summary,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		session.ID.String(), session.Title, string(msgsJSON), session.Summary,
		string(metaJSON), session.CreatedAt, session.UpdatedAt,
	)
	return err
}

func (s *Stores) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
	return err
}

func (s *Stores) LoadSessions(ctx context.Context) ([]*memory.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, messages, summary, metadata, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*memory.Session
	for rows.Next() {
		var (
			idStr, msgsJSON, metaJSON string
			title, summary            sql.NullString
			createdAt, updatedAt      time.Time
		)
		if err := rows.Scan(&idStr, &title, &msgsJSON, &summary,
			&metaJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		session := &memory.Session{
			ID:        id,
			Title:     title.String,
			Summary:   summary.String,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		}
		if err := json.Unmarshal([]byte(msgsJSON), &session.Messages); err != nil {
			continue
		}
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &session.Metadata)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *Stores) SaveTodoList(ctx context.Context, sessionID uuid.UUID, list *protocol.TodoList) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO todo_lists (session_id, list, revision, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET
			list = excluded.list,
			revision = excluded.revision,
			updated_at = excluded.updated_at`,
		sessionID.String(), string(data), list.Revision, list.UpdatedAt,
	)
	return err
}

func (s *Stores) GetTodoList(ctx context.Context, sessionID uuid.UUID) (*protocol.TodoList, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT list FROM todo_lists WHERE session_id = ?`, sessionID.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var list protocol.TodoList
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *Stores) DeleteTodoList(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM todo_lists WHERE session_id = ?`, sessionID.String())
	return err
}

func (s *Stores) LoadTodoLists(ctx context.Context) (map[uuid.UUID]*protocol.TodoList, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, list FROM todo_lists`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lists := make(map[uuid.UUID]*protocol.TodoList)
	for rows.Next() {
		var idStr, data string
		if err := rows.Scan(&idStr, &data); err != nil {
			return nil, err
		}
		sessionID, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		var list protocol.TodoList
		if err := json.Unmarshal([]byte(data), &list); err != nil {
			continue
		}
		lists[sessionID] = &list
	}
	return lists, rows.Err()
}
