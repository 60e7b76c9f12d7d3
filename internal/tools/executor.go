package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/agentd/internal/providers"
)

// ExecResult is the materialized outcome of one tool call. Position in the
// returned slice matches the position of the call in the request.
type ExecResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Name       string        `json:"name"`
	Content    string        `json:"content"`
	IsError    bool          `json:"is_error"`
	Duration   time.Duration `json:"duration"`
}

// HistoryEntry records one executed call for a session.
type HistoryEntry struct {
	ToolCallID string        `json:"tool_call_id"`
	Name       string        `json:"name"`
	IsError    bool          `json:"is_error"`
	Duration   time.Duration `json:"duration"`
	At         time.Time     `json:"at"`
}

const historyLimit = 100

// Executor runs tool calls with bounded parallelism and a per-call timeout.
// Every failure mode — unknown tool, bad arguments, timeout, panic — is
// materialized as an error result so the conversation can continue.
type Executor struct {
	registry    *Registry
	sem         *semaphore.Weighted
	callTimeout time.Duration

	mu      sync.Mutex
	history map[uuid.UUID][]HistoryEntry
}

// NewExecutor builds an executor. maxParallel <= 0 defaults to 5,
// callTimeout <= 0 to 30s.
func NewExecutor(registry *Registry, maxParallel int, callTimeout time.Duration) *Executor {
	if maxParallel <= 0 {
		maxParallel = 5
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Executor{
		registry:    registry,
		sem:         semaphore.NewWeighted(int64(maxParallel)),
		callTimeout: callTimeout,
		history:     make(map[uuid.UUID][]HistoryEntry),
	}
}

// Execute runs the calls concurrently and returns results in call order.
func (e *Executor) Execute(ctx context.Context, sessionID uuid.UUID, calls []providers.ToolCall) []ExecResult {
	results := make([]ExecResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call providers.ToolCall) {
			defer wg.Done()
			results[i] = e.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()

	e.record(sessionID, results)
	return results
}

// ExecuteOne runs a single call synchronously.
func (e *Executor) ExecuteOne(ctx context.Context, sessionID uuid.UUID, call providers.ToolCall) ExecResult {
	result := e.executeOne(ctx, call)
	e.record(sessionID, []ExecResult{result})
	return result
}

func (e *Executor) executeOne(ctx context.Context, call providers.ToolCall) ExecResult {
	start := time.Now()
	result := ExecResult{ToolCallID: call.ID, Name: call.Name}

	fail := func(msg string) ExecResult {
		result.Content = msg
		result.IsError = true
		result.Duration = time.Since(start)
		return result
	}

	if call.Arguments == nil {
		return fail("Invalid JSON arguments")
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return fail(fmt.Sprintf("Tool '%s' not found", call.Name))
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fail(fmt.Sprintf("Tool execution cancelled: %v", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	type outcome struct{ res *Result }
	done := make(chan outcome, 1)
	go func() {
		// The worker holds the slot until the tool actually returns, so an
		// abandoned (timed-out) execution still counts against max_parallel.
		defer e.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("tool panicked", "tool", call.Name, "panic", r)
				done <- outcome{ErrorResult(fmt.Sprintf("Tool execution failed: %v", r))}
			}
		}()
		done <- outcome{tool.Execute(callCtx, call.Arguments)}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return fail(fmt.Sprintf("Tool execution cancelled: %v", ctx.Err()))
		}
		return fail(fmt.Sprintf("Tool execution timed out after %ds", int(e.callTimeout.Seconds())))
	case out := <-done:
		res := out.res
		if res == nil {
			return fail("Tool returned no result")
		}
		if res.Err != nil {
			slog.Warn("tool error", "tool", call.Name, "error", res.Err)
		}
		result.Content = res.ForLLM
		result.IsError = res.IsError
		result.Duration = time.Since(start)
		return result
	}
}

func (e *Executor) record(sessionID uuid.UUID, results []ExecResult) {
	if sessionID == uuid.Nil {
		return
	}
	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.history[sessionID]
	for _, r := range results {
		entries = append(entries, HistoryEntry{
			ToolCallID: r.ToolCallID,
			Name:       r.Name,
			IsError:    r.IsError,
			Duration:   r.Duration,
			At:         now,
		})
	}
	if len(entries) > historyLimit {
		entries = entries[len(entries)-historyLimit:]
	}
	e.history[sessionID] = entries
}

// History returns a copy of the session's execution log.
func (e *Executor) History(sessionID uuid.UUID) []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]HistoryEntry(nil), e.history[sessionID]...)
}

// ClearHistory drops a session's execution log.
func (e *Executor) ClearHistory(sessionID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.history, sessionID)
}

// EnsureCallID fills in a generated id for providers that omit one.
func EnsureCallID(call *providers.ToolCall) {
	if call.ID == "" {
		call.ID = "call_" + uuid.Must(uuid.NewV7()).String()
	}
}
