package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/agent"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/queue"
)

const chatWorkers = 4

// chatDispatcher is the admission layer for buffered chat: requests are
// queued by priority, workers drain the queue through the middleware
// pipeline into the agent. Streaming requests bypass it because SSE needs
// the connection open before the first chunk.
type chatDispatcher struct {
	queue    *queue.PriorityQueue
	pipeline *queue.Pipeline
	agent    *agent.ChatAgent
	pending  sync.Map // message id -> chan dispatchOutcome
}

type dispatchOutcome struct {
	result *agent.RunResult
	err    error
}

func newChatDispatcher(chatAgent *agent.ChatAgent, cfg config.QueueConfig) *chatDispatcher {
	d := &chatDispatcher{
		queue: queue.NewPriorityQueue(cfg.MaxSize),
		agent: chatAgent,
	}

	d.pipeline = queue.NewPipeline(d.handle)
	d.pipeline.Use(queue.LoggingMiddleware())
	d.pipeline.Use(queue.TimingMiddleware())
	d.pipeline.Use(queue.ValidationMiddleware())
	if cfg.RatePerSecond > 0 {
		d.pipeline.Use(queue.RateLimitMiddleware(cfg.RatePerSecond, chatWorkers))
	}
	return d
}

func (d *chatDispatcher) handle(ctx context.Context, pc *queue.PipeContext) error {
	sessionID, err := uuid.Parse(pc.Message.SessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}
	result, err := d.agent.Run(ctx, sessionID, pc.Message.Content)
	if err != nil {
		return err
	}
	pc.Metadata["result"] = result
	return nil
}

// start launches the worker pool. Workers exit when the context is
// cancelled or the queue closes.
func (d *chatDispatcher) start(ctx context.Context) {
	for i := 0; i < chatWorkers; i++ {
		go d.queue.Consume(ctx, func(msg *queue.QueuedMessage) {
			pc := d.pipeline.Process(ctx, msg)

			out := dispatchOutcome{err: pc.Err}
			if r, ok := pc.Metadata["result"].(*agent.RunResult); ok {
				out.result = r
			}
			if ch, loaded := d.pending.LoadAndDelete(msg.ID); loaded {
				ch.(chan dispatchOutcome) <- out
			}
		})
	}
	go func() {
		<-ctx.Done()
		d.queue.Close()
	}()
}

// submit enqueues one request and waits for its outcome. queue.ErrQueueFull
// propagates to the caller for a 503.
func (d *chatDispatcher) submit(ctx context.Context, sessionID uuid.UUID, content string, priority int) (*agent.RunResult, error) {
	msg := queue.NewMessage(sessionID.String(), content, priority)

	ch := make(chan dispatchOutcome, 1)
	d.pending.Store(msg.ID, ch)

	if err := d.queue.Enqueue(msg); err != nil {
		d.pending.Delete(msg.ID)
		return nil, err
	}

	select {
	case <-ctx.Done():
		d.pending.Delete(msg.ID)
		return nil, ctx.Err()
	case out := <-ch:
		return out.result, out.err
	}
}

// stats exposes admission queue counters for the stats endpoint.
func (d *chatDispatcher) stats() queue.Stats {
	return d.queue.Stats()
}

// waitDrain blocks until the queue empties or the timeout passes. Used in
// tests and shutdown.
func (d *chatDispatcher) waitDrain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.queue.Len() == 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
