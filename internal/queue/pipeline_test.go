package queue

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestPipelineCompletes(t *testing.T) {
	p := NewPipeline(func(ctx context.Context, pc *PipeContext) error {
		if pc.Status != StatusProcessing {
			t.Errorf("handler saw status %q", pc.Status)
		}
		return nil
	})

	pc := p.Process(context.Background(), NewMessage("s1", "hi", PriorityNormal))
	if pc.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", pc.Status)
	}
}

func TestPipelineFails(t *testing.T) {
	p := NewPipeline(func(ctx context.Context, pc *PipeContext) error {
		return fmt.Errorf("boom")
	})

	pc := p.Process(context.Background(), NewMessage("s1", "hi", PriorityNormal))
	if pc.Status != StatusFailed {
		t.Errorf("status = %q, want failed", pc.Status)
	}
	if pc.Err == nil {
		t.Error("expected error on context")
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, pc *PipeContext) error {
				order = append(order, name+"-in")
				err := next(ctx, pc)
				order = append(order, name+"-out")
				return err
			}
		}
	}

	p := NewPipeline(func(ctx context.Context, pc *PipeContext) error {
		order = append(order, "handler")
		return nil
	})
	p.Use(mw("first")).Use(mw("second"))
	p.Process(context.Background(), NewMessage("s1", "hi", PriorityNormal))

	want := []string{"first-in", "second-in", "handler", "second-out", "first-out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestValidationMiddleware(t *testing.T) {
	called := false
	p := NewPipeline(func(ctx context.Context, pc *PipeContext) error {
		called = true
		return nil
	})
	p.Use(ValidationMiddleware())

	msg := NewMessage("s1", "", PriorityNormal)
	pc := p.Process(context.Background(), msg)
	if pc.Status != StatusFailed {
		t.Errorf("status = %q, want failed", pc.Status)
	}
	if called {
		t.Error("handler ran on invalid message")
	}
}

func TestRetryMiddleware(t *testing.T) {
	attempts := 0
	p := NewPipeline(func(ctx context.Context, pc *PipeContext) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	p.Use(RetryMiddleware(3, time.Millisecond))

	pc := p.Process(context.Background(), NewMessage("s1", "hi", PriorityNormal))
	if pc.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", pc.Status)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if pc.Metadata["retries"] != 2 {
		t.Errorf("retries metadata = %v, want 2", pc.Metadata["retries"])
	}
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	p := NewPipeline(func(ctx context.Context, pc *PipeContext) error {
		attempts++
		return fmt.Errorf("always")
	})
	p.Use(RetryMiddleware(2, time.Millisecond))

	pc := p.Process(context.Background(), NewMessage("s1", "hi", PriorityNormal))
	if pc.Status != StatusFailed {
		t.Errorf("status = %q, want failed", pc.Status)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestTimingMiddleware(t *testing.T) {
	p := NewPipeline(func(ctx context.Context, pc *PipeContext) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	p.Use(TimingMiddleware())

	pc := p.Process(context.Background(), NewMessage("s1", "hi", PriorityNormal))
	if _, ok := pc.Metadata["duration_ms"]; !ok {
		t.Error("duration_ms not recorded")
	}
}
