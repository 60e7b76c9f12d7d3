package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// TodoStore implements store.TodoStore on Postgres. Lists read during tool
// loops are cached in memory; the cache is filled with double-checked
// locking on first read.
type TodoStore struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache map[uuid.UUID]*protocol.TodoList
}

func NewTodoStore(db *sql.DB) *TodoStore {
	return &TodoStore{db: db, cache: make(map[uuid.UUID]*protocol.TodoList)}
}

func (s *TodoStore) SaveTodoList(ctx context.Context, sessionID uuid.UUID, list *protocol.TodoList) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO todo_lists (session_id, list, revision, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET
			list = EXCLUDED.list,
			revision = EXCLUDED.revision,
			updated_at = EXCLUDED.updated_at`,
		sessionID, data, list.Revision, list.UpdatedAt,
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[sessionID] = list
	s.mu.Unlock()
	return nil
}

func (s *TodoStore) GetTodoList(ctx context.Context, sessionID uuid.UUID) (*protocol.TodoList, error) {
	s.mu.RLock()
	if list, ok := s.cache[sessionID]; ok {
		s.mu.RUnlock()
		return list, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if list, ok := s.cache[sessionID]; ok {
		return list, nil
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT list FROM todo_lists WHERE session_id = $1`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var list protocol.TodoList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	s.cache[sessionID] = &list
	return &list, nil
}

func (s *TodoStore) DeleteTodoList(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM todo_lists WHERE session_id = $1`, sessionID)
	return err
}

func (s *TodoStore) LoadTodoLists(ctx context.Context) (map[uuid.UUID]*protocol.TodoList, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, list FROM todo_lists`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lists := make(map[uuid.UUID]*protocol.TodoList)
	for rows.Next() {
		var sessionID uuid.UUID
		var data []byte
		if err := rows.Scan(&sessionID, &data); err != nil {
			return nil, err
		}
		var list protocol.TodoList
		if err := json.Unmarshal(data, &list); err != nil {
			continue
		}
		lists[sessionID] = &list
	}

	s.mu.Lock()
	for id, list := range lists {
		s.cache[id] = list
	}
	s.mu.Unlock()
	return lists, rows.Err()
}
