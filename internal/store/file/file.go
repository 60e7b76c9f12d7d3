// Package file is the zero-dependency session store: one JSON document per
// session under a storage directory, written atomically.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/store"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// Stores is the file-backed implementation of store.SessionStore and
// store.TodoStore.
type Stores struct {
	sessionsDir string
	todosDir    string
	mu          sync.Mutex
}

// New creates the storage directories and returns the combined stores.
func New(root string) (*store.Stores, error) {
	s := &Stores{
		sessionsDir: filepath.Join(root, "sessions"),
		todosDir:    filepath.Join(root, "todos"),
	}
	for _, dir := range []string{s.sessionsDir, s.todosDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &store.Stores{Sessions: s, Todos: s}, nil
}

func (s *Stores) SaveSession(_ context.Context, session *memory.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.sessionsDir, session.ID.String()+".json", data)
}

func (s *Stores) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.sessionsDir, id.String()+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Stores) LoadSessions(_ context.Context) ([]*memory.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		return nil, err
	}

	var sessions []*memory.Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.sessionsDir, e.Name()))
		if err != nil {
			continue
		}
		var session memory.Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

func (s *Stores) SaveTodoList(_ context.Context, sessionID uuid.UUID, list *protocol.TodoList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.todosDir, sessionID.String()+".json", data)
}

func (s *Stores) GetTodoList(_ context.Context, sessionID uuid.UUID) (*protocol.TodoList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.todosDir, sessionID.String()+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var list protocol.TodoList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *Stores) DeleteTodoList(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.todosDir, sessionID.String()+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Stores) LoadTodoLists(_ context.Context) (map[uuid.UUID]*protocol.TodoList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.todosDir)
	if err != nil {
		return nil, err
	}

	lists := make(map[uuid.UUID]*protocol.TodoList)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sessionID, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.todosDir, name))
		if err != nil {
			continue
		}
		var list protocol.TodoList
		if err := json.Unmarshal(data, &list); err != nil {
			continue
		}
		lists[sessionID] = &list
	}
	return lists, nil
}

// writeAtomic writes via temp file, fsync, then rename.
func writeAtomic(dir, name string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, "write-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return err
	}
	cleanup = false
	return nil
}
