// Package todo manages the single revisioned todo list each session owns.
// Mutations go through the service so every change bumps the revision and
// broadcasts a fresh snapshot.
package todo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/store"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// ItemInput is one step as supplied by a caller or the LLM.
type ItemInput struct {
	Label  string
	Status string
}

// UpdateFunc receives the snapshot after every mutation. A nil list means
// the session's list was cleared.
type UpdateFunc func(sessionID uuid.UUID, list *protocol.TodoList)

// Service owns todo list state. All mutations for a session are serialized
// under a per-session lock.
type Service struct {
	store    store.TodoStore
	onUpdate UpdateFunc

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewService(st store.TodoStore) *Service {
	return &Service{
		store: st,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// OnUpdate registers the broadcast callback.
func (s *Service) OnUpdate(fn UpdateFunc) { s.onUpdate = fn }

func (s *Service) sessionLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[id] = lk
	}
	return lk
}

// Get returns the session's list, or nil when it has none.
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*protocol.TodoList, error) {
	return s.store.GetTodoList(ctx, sessionID)
}

// CreateOrReplace wholesale replaces the session's list. The revision
// continues from the previous list so consumers can detect staleness.
func (s *Service) CreateOrReplace(ctx context.Context, sessionID uuid.UUID, title string, items []ItemInput) (*protocol.TodoList, error) {
	lk := s.sessionLock(sessionID)
	lk.Lock()
	defer lk.Unlock()

	prev, err := s.store.GetTodoList(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load todo list: %w", err)
	}

	revision := 1
	listID := uuid.Must(uuid.NewV7()).String()
	if prev != nil {
		revision = prev.Revision + 1
		listID = prev.ID
	}

	list := &protocol.TodoList{
		ID:        listID,
		Title:     title,
		Status:    protocol.TodoListActive,
		Revision:  revision,
		UpdatedAt: time.Now().UTC(),
	}
	for i, in := range items {
		list.Items = append(list.Items, protocol.TodoItem{
			ID:         uuid.Must(uuid.NewV7()).String(),
			Label:      in.Label,
			Status:     NormalizeStatus(in.Status),
			OrderIndex: i + 1,
		})
	}
	enforceSingleRunning(list)
	refreshListStatus(list)

	if err := s.save(ctx, sessionID, list); err != nil {
		return nil, err
	}
	return list, nil
}

// AdvanceStep completes the running item and promotes the next pending one.
func (s *Service) AdvanceStep(ctx context.Context, sessionID uuid.UUID) (*protocol.TodoList, error) {
	return s.mutate(ctx, sessionID, func(list *protocol.TodoList) error {
		for i := range list.Items {
			if list.Items[i].Status == protocol.TodoRunning {
				list.Items[i].Status = protocol.TodoCompleted
				break
			}
		}
		for i := range list.Items {
			if list.Items[i].Status == protocol.TodoPending {
				list.Items[i].Status = protocol.TodoRunning
				break
			}
		}
		return nil
	})
}

// SetItemStatus updates one item by id.
func (s *Service) SetItemStatus(ctx context.Context, sessionID uuid.UUID, itemID, status string) (*protocol.TodoList, error) {
	return s.mutate(ctx, sessionID, func(list *protocol.TodoList) error {
		for i := range list.Items {
			if list.Items[i].ID == itemID {
				list.Items[i].Status = NormalizeStatus(status)
				enforceSingleRunning(list)
				return nil
			}
		}
		return fmt.Errorf("todo item %q not found", itemID)
	})
}

// CompleteAll marks every item completed.
func (s *Service) CompleteAll(ctx context.Context, sessionID uuid.UUID) (*protocol.TodoList, error) {
	return s.mutate(ctx, sessionID, func(list *protocol.TodoList) error {
		for i := range list.Items {
			list.Items[i].Status = protocol.TodoCompleted
		}
		return nil
	})
}

// Clear removes the session's list and broadcasts a nil snapshot.
func (s *Service) Clear(ctx context.Context, sessionID uuid.UUID) error {
	lk := s.sessionLock(sessionID)
	lk.Lock()
	defer lk.Unlock()

	if err := s.store.DeleteTodoList(ctx, sessionID); err != nil {
		return fmt.Errorf("delete todo list: %w", err)
	}
	if s.onUpdate != nil {
		s.onUpdate(sessionID, nil)
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, sessionID uuid.UUID, fn func(*protocol.TodoList) error) (*protocol.TodoList, error) {
	lk := s.sessionLock(sessionID)
	lk.Lock()
	defer lk.Unlock()

	list, err := s.store.GetTodoList(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load todo list: %w", err)
	}
	if list == nil {
		return nil, fmt.Errorf("session has no todo list")
	}

	if err := fn(list); err != nil {
		return nil, err
	}
	refreshListStatus(list)
	list.Revision++
	list.UpdatedAt = time.Now().UTC()

	if err := s.save(ctx, sessionID, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Service) save(ctx context.Context, sessionID uuid.UUID, list *protocol.TodoList) error {
	if err := s.store.SaveTodoList(ctx, sessionID, list); err != nil {
		return fmt.Errorf("save todo list: %w", err)
	}
	slog.Debug("todo list updated",
		"session_id", sessionID,
		"revision", list.Revision,
		"items", len(list.Items))
	if s.onUpdate != nil {
		s.onUpdate(sessionID, list)
	}
	return nil
}

// NormalizeStatus maps loose status strings to the three canonical states.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running", "in_progress", "in-progress", "active", "doing", "started":
		return protocol.TodoRunning
	case "completed", "complete", "done", "finished":
		return protocol.TodoCompleted
	default:
		return protocol.TodoPending
	}
}

// refreshListStatus derives the list status: completed once every item is
// completed, active otherwise.
func refreshListStatus(list *protocol.TodoList) {
	list.Status = protocol.TodoListActive
	if len(list.Items) == 0 {
		return
	}
	for _, item := range list.Items {
		if item.Status != protocol.TodoCompleted {
			return
		}
	}
	list.Status = protocol.TodoListCompleted
}

// enforceSingleRunning keeps at most one running item. The first running
// item wins; extras demote to pending. If nothing is running, the first
// pending item is promoted.
func enforceSingleRunning(list *protocol.TodoList) {
	seen := false
	for i := range list.Items {
		if list.Items[i].Status != protocol.TodoRunning {
			continue
		}
		if seen {
			list.Items[i].Status = protocol.TodoPending
		}
		seen = true
	}
	if seen {
		return
	}
	for i := range list.Items {
		if list.Items[i].Status == protocol.TodoPending {
			list.Items[i].Status = protocol.TodoRunning
			return
		}
	}
}
