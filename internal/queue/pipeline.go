package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Processing states carried on the pipeline context.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// PipeContext travels through the middleware chain with one message.
type PipeContext struct {
	Message  *QueuedMessage
	Status   string
	Err      error
	Metadata map[string]interface{}
}

// NewPipeContext wraps a message in the pending state.
func NewPipeContext(msg *QueuedMessage) *PipeContext {
	return &PipeContext{
		Message:  msg,
		Status:   StatusPending,
		Metadata: make(map[string]interface{}),
	}
}

// Handler processes a message at the end of the chain.
type Handler func(ctx context.Context, pc *PipeContext) error

// Middleware wraps a handler with cross-cutting behavior.
type Middleware func(next Handler) Handler

// Pipeline composes middlewares around a final handler. Middlewares run in
// the order they were added: the first added is the outermost wrapper.
type Pipeline struct {
	middlewares []Middleware
	handler     Handler
}

func NewPipeline(handler Handler) *Pipeline {
	return &Pipeline{handler: handler}
}

// Use appends a middleware. Returns the pipeline for chaining.
func (p *Pipeline) Use(mw Middleware) *Pipeline {
	p.middlewares = append(p.middlewares, mw)
	return p
}

// Process runs the message through the chain. The final handler sees the
// context in the processing state; the pipeline settles it to completed
// or failed.
func (p *Pipeline) Process(ctx context.Context, msg *QueuedMessage) *PipeContext {
	pc := NewPipeContext(msg)

	final := func(ctx context.Context, pc *PipeContext) error {
		pc.Status = StatusProcessing
		if err := p.handler(ctx, pc); err != nil {
			pc.Status = StatusFailed
			pc.Err = err
			return err
		}
		pc.Status = StatusCompleted
		return nil
	}

	chain := final
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		chain = p.middlewares[i](chain)
	}

	if err := chain(ctx, pc); err != nil && pc.Status != StatusFailed {
		pc.Status = StatusFailed
		pc.Err = err
	}
	return pc
}

// LoggingMiddleware logs entry and outcome of each message.
func LoggingMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, pc *PipeContext) error {
			slog.Info("processing message",
				"message_id", pc.Message.ID,
				"session_id", pc.Message.SessionID,
				"priority", pc.Message.Priority)
			err := next(ctx, pc)
			if err != nil {
				slog.Error("message failed",
					"message_id", pc.Message.ID,
					"error", err)
			} else {
				slog.Info("message completed", "message_id", pc.Message.ID)
			}
			return err
		}
	}
}

// TimingMiddleware records processing duration in the context metadata.
func TimingMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, pc *PipeContext) error {
			start := time.Now()
			err := next(ctx, pc)
			pc.Metadata["duration_ms"] = time.Since(start).Milliseconds()
			return err
		}
	}
}

// ValidationMiddleware rejects structurally invalid messages before they
// reach the handler.
func ValidationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, pc *PipeContext) error {
			if pc.Message.Content == "" {
				return fmt.Errorf("validation: empty content")
			}
			if pc.Message.SessionID == "" {
				return fmt.Errorf("validation: missing session id")
			}
			return next(ctx, pc)
		}
	}
}

// RetryMiddleware retries the downstream chain with linear backoff:
// the wait before attempt n+1 is delay*(n+1).
func RetryMiddleware(maxRetries int, delay time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, pc *PipeContext) error {
			var err error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				if attempt > 0 {
					wait := delay * time.Duration(attempt)
					slog.Warn("retrying message",
						"message_id", pc.Message.ID,
						"attempt", attempt,
						"wait", wait)
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(wait):
					}
				}
				if err = next(ctx, pc); err == nil {
					if attempt > 0 {
						pc.Metadata["retries"] = attempt
					}
					return nil
				}
			}
			return fmt.Errorf("after %d retries: %w", maxRetries, err)
		}
	}
}

// RateLimitMiddleware throttles throughput to n messages per second.
func RateLimitMiddleware(perSecond float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next Handler) Handler {
		return func(ctx context.Context, pc *PipeContext) error {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit: %w", err)
			}
			return next(ctx, pc)
		}
	}
}
