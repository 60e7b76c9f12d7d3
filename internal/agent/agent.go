// Package agent drives the per-session conversation loop: LLM call, tool
// dispatch, message append, repeat until the model stops asking for tools.
package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/todo"
	"github.com/nextlevelbuilder/agentd/internal/tools"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// Session statuses recorded in session metadata as the loop progresses.
const (
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// checkpointLimit caps the per-session iteration trail kept in metadata.
const checkpointLimit = 5

// ChatAgent owns the conversation loop. One agent serves all sessions;
// per-session runs are serialized on the memory manager's session lock.
type ChatAgent struct {
	provider providers.Provider
	memory   *memory.Manager
	registry *tools.Registry
	executor *tools.Executor
	todos    *todo.Service
	cfg      *config.Config

	mu         sync.Mutex
	interrupts map[uuid.UUID]*interruptSignal

	totalRuns      atomic.Int64
	toolExecutions atomic.Int64
	interrupted    atomic.Int64
}

func New(provider providers.Provider, mem *memory.Manager, registry *tools.Registry, executor *tools.Executor, todos *todo.Service, cfg *config.Config) *ChatAgent {
	return &ChatAgent{
		provider:   provider,
		memory:     mem,
		registry:   registry,
		executor:   executor,
		todos:      todos,
		cfg:        cfg,
		interrupts: make(map[uuid.UUID]*interruptSignal),
	}
}

// Memory exposes the session manager for the HTTP layer.
func (a *ChatAgent) Memory() *memory.Manager { return a.memory }

// Registry exposes the tool registry.
func (a *ChatAgent) Registry() *tools.Registry { return a.registry }

// Executor exposes the tool executor.
func (a *ChatAgent) Executor() *tools.Executor { return a.executor }

// Todos returns the todo service, or nil when the subsystem is disabled.
func (a *ChatAgent) Todos() *todo.Service { return a.todos }

// interruptSignal is one run's cooperative cancellation handle. The flag
// outlives individual LLM calls; the cancel func always points at the
// in-flight call so an interrupt releases the network stream immediately.
type interruptSignal struct {
	fired atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *interruptSignal) setCancel(fn context.CancelFunc) {
	s.mu.Lock()
	s.cancel = fn
	s.mu.Unlock()
}

func (s *interruptSignal) fire() {
	s.fired.Store(true)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

// registerRun publishes the interrupt signal for a session. The previous
// signal, if any, is replaced: last writer wins, and the earlier run sees
// its flag untouched but loses interruptability.
func (a *ChatAgent) registerRun(sessionID uuid.UUID) *interruptSignal {
	sig := &interruptSignal{}
	a.mu.Lock()
	a.interrupts[sessionID] = sig
	a.mu.Unlock()
	return sig
}

func (a *ChatAgent) unregisterRun(sessionID uuid.UUID, sig *interruptSignal) {
	a.mu.Lock()
	if a.interrupts[sessionID] == sig {
		delete(a.interrupts, sessionID)
	}
	a.mu.Unlock()
}

// Interrupt requests cooperative termination of the session's active run.
// Returns false when no run is active. Repeat calls are harmless.
func (a *ChatAgent) Interrupt(sessionID uuid.UUID) bool {
	a.mu.Lock()
	sig, ok := a.interrupts[sessionID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	sig.fire()
	a.interrupted.Add(1)
	return true
}

// TodoList returns the session's current todo snapshot.
func (a *ChatAgent) TodoList(ctx context.Context, sessionID uuid.UUID) (*protocol.TodoList, error) {
	if a.todos == nil {
		return nil, fmt.Errorf("todo subsystem disabled")
	}
	return a.todos.Get(ctx, sessionID)
}

// Stats is a runtime counter snapshot.
type Stats struct {
	ActiveSessions  int   `json:"active_sessions"`
	ActiveRuns      int   `json:"active_runs"`
	TotalRuns       int64 `json:"total_runs"`
	ToolExecutions  int64 `json:"tool_executions"`
	InterruptedRuns int64 `json:"interrupted_runs"`
}

func (a *ChatAgent) Stats() Stats {
	a.mu.Lock()
	activeRuns := len(a.interrupts)
	a.mu.Unlock()
	return Stats{
		ActiveSessions:  a.memory.StatsGlobal().SessionCount,
		ActiveRuns:      activeRuns,
		TotalRuns:       a.totalRuns.Load(),
		ToolExecutions:  a.toolExecutions.Load(),
		InterruptedRuns: a.interrupted.Load(),
	}
}

// resolveSession fetches or creates the session for a run.
func (a *ChatAgent) resolveSession(ctx context.Context, sessionID uuid.UUID) (*memory.Session, error) {
	if sessionID == uuid.Nil {
		snap := a.cfg.Snapshot()
		return a.memory.CreateSession(ctx, snap.Agent.SystemPrompt, nil), nil
	}
	session, ok := a.memory.GetSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return session, nil
}

// setStatus records loop progress on the session metadata, keeping a short
// checkpoint trail for inspection.
func (a *ChatAgent) setStatus(session *memory.Session, status string, iteration int) {
	if session.Metadata == nil {
		session.Metadata = make(map[string]interface{})
	}
	session.Metadata["status"] = status
	session.Metadata["iteration"] = iteration

	trail, _ := session.Metadata["checkpoints"].([]string)
	trail = append(trail, fmt.Sprintf("%s@%d", status, iteration))
	if len(trail) > checkpointLimit {
		trail = trail[len(trail)-checkpointLimit:]
	}
	session.Metadata["checkpoints"] = trail
}
