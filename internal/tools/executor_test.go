package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/providers"
)

type fakeTool struct {
	name  string
	delay time.Duration
	fn    func(args map[string]interface{}) *Result
}

func (f *fakeTool) Name() string                       { return f.name }
func (f *fakeTool) Description() string                { return "fake" }
func (f *fakeTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if f.fn != nil {
		return f.fn(args)
	}
	return NewResult("ok:" + f.name)
}

func TestExecutorResultOrder(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&fakeTool{name: "slow", delay: 30 * time.Millisecond})
	_ = reg.Register(&fakeTool{name: "fast"})

	ex := NewExecutor(reg, 2, time.Second)
	calls := []providers.ToolCall{
		{ID: "c1", Name: "slow", Arguments: map[string]interface{}{}},
		{ID: "c2", Name: "fast", Arguments: map[string]interface{}{}},
	}

	results := ex.Execute(context.Background(), uuid.Must(uuid.NewV7()), calls)
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].ToolCallID != "c1" || results[1].ToolCallID != "c2" {
		t.Errorf("order not preserved: %+v", results)
	}
	if results[0].Content != "ok:slow" || results[1].Content != "ok:fast" {
		t.Errorf("contents: %+v", results)
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	ex := NewExecutor(NewRegistry(), 2, time.Second)
	res := ex.ExecuteOne(context.Background(), uuid.Nil, providers.ToolCall{
		ID: "c1", Name: "nope", Arguments: map[string]interface{}{},
	})
	if !res.IsError || res.Content != "Tool 'nope' not found" {
		t.Errorf("got %+v", res)
	}
}

func TestExecutorInvalidArguments(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&fakeTool{name: "echo"})
	ex := NewExecutor(reg, 2, time.Second)

	res := ex.ExecuteOne(context.Background(), uuid.Nil, providers.ToolCall{
		ID: "c1", Name: "echo", Arguments: nil,
	})
	if !res.IsError || res.Content != "Invalid JSON arguments" {
		t.Errorf("got %+v", res)
	}
}

func TestExecutorTimeout(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&fakeTool{name: "sleepy", delay: time.Second})
	ex := NewExecutor(reg, 2, 50*time.Millisecond)

	res := ex.ExecuteOne(context.Background(), uuid.Nil, providers.ToolCall{
		ID: "c1", Name: "sleepy", Arguments: map[string]interface{}{},
	})
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Errorf("got %+v", res)
	}
}

// stubbornTool ignores context cancellation and only returns when released.
type stubbornTool struct {
	release chan struct{}
}

func (s *stubbornTool) Name() string        { return "stubborn" }
func (s *stubbornTool) Description() string { return "fake" }
func (s *stubbornTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (s *stubbornTool) Execute(_ context.Context, _ map[string]interface{}) *Result {
	<-s.release
	return NewResult("finally")
}

func TestExecutorTimeoutKeepsParallelismBound(t *testing.T) {
	stubborn := &stubbornTool{release: make(chan struct{})}
	reg := NewRegistry()
	_ = reg.Register(stubborn)
	_ = reg.Register(&fakeTool{name: "fast"})
	ex := NewExecutor(reg, 1, 20*time.Millisecond)

	res := ex.ExecuteOne(context.Background(), uuid.Nil, providers.ToolCall{
		ID: "c1", Name: "stubborn", Arguments: map[string]interface{}{},
	})
	if !res.IsError || !strings.Contains(res.Content, "timed out") {
		t.Fatalf("got %+v", res)
	}

	// The abandoned tool still holds the single slot, so the next call
	// cannot start until it returns.
	second := make(chan ExecResult, 1)
	go func() {
		second <- ex.ExecuteOne(context.Background(), uuid.Nil, providers.ToolCall{
			ID: "c2", Name: "fast", Arguments: map[string]interface{}{},
		})
	}()

	select {
	case r := <-second:
		t.Fatalf("second call ran while slot was held: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	close(stubborn.release)
	select {
	case r := <-second:
		if r.IsError {
			t.Errorf("second call after release: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second call never acquired the freed slot")
	}
}

func TestExecutorPanicRecovery(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&fakeTool{name: "bomb", fn: func(map[string]interface{}) *Result {
		panic("kaboom")
	}})
	ex := NewExecutor(reg, 2, time.Second)

	res := ex.ExecuteOne(context.Background(), uuid.Nil, providers.ToolCall{
		ID: "c1", Name: "bomb", Arguments: map[string]interface{}{},
	})
	if !res.IsError || !strings.Contains(res.Content, "kaboom") {
		t.Errorf("got %+v", res)
	}
}

func TestExecutorHistory(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&fakeTool{name: "echo"})
	ex := NewExecutor(reg, 2, time.Second)
	sid := uuid.Must(uuid.NewV7())

	ex.ExecuteOne(context.Background(), sid, providers.ToolCall{
		ID: "c1", Name: "echo", Arguments: map[string]interface{}{},
	})

	hist := ex.History(sid)
	if len(hist) != 1 || hist[0].Name != "echo" {
		t.Errorf("history = %+v", hist)
	}

	ex.ClearHistory(sid)
	if len(ex.History(sid)) != 0 {
		t.Error("history not cleared")
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&fakeTool{name: "a"})
	_ = reg.Register(&fakeTool{name: "b"})

	if err := reg.Register(&fakeTool{name: "a"}); err == nil {
		t.Error("duplicate registration should fail")
	}

	reg.Unregister("a")
	if _, ok := reg.Get("a"); ok {
		t.Error("a still registered")
	}
	names := reg.Names()
	if len(names) != 1 || names[0] != "b" {
		t.Errorf("names = %v", names)
	}
	// Unknown name is a no-op.
	reg.Unregister("zzz")
}

func TestEnsureCallID(t *testing.T) {
	call := providers.ToolCall{Name: "x"}
	EnsureCallID(&call)
	if !strings.HasPrefix(call.ID, "call_") {
		t.Errorf("id = %q", call.ID)
	}
	fixed := providers.ToolCall{ID: "keep", Name: "x"}
	EnsureCallID(&fixed)
	if fixed.ID != "keep" {
		t.Errorf("id overwritten: %q", fixed.ID)
	}
}
