package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/tracing"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// EmitFunc receives stream chunks in order. It is called from the run's
// goroutine only.
type EmitFunc func(protocol.StreamChunk)

// RunStream executes one conversation turn, streaming output as it
// arrives. Chunk order per run: exactly one session chunk first, then
// interleaved thinking/content deltas, tool_call chunks once calls are
// assembled, todo_list snapshots before the next LLM call, and exactly
// one terminal done or error chunk.
func (a *ChatAgent) RunStream(ctx context.Context, sessionID uuid.UUID, userMessage string, emit EmitFunc) error {
	session, err := a.resolveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sid := session.ID

	lock := a.memory.SessionLock(sid)
	lock.Lock()
	defer lock.Unlock()

	sig := a.registerRun(sid)
	defer a.unregisterRun(sid, sig)
	a.totalRuns.Add(1)

	ctx, span := tracing.Tracer().Start(ctx, "agent.run_stream")
	span.SetAttributes(attribute.String("session.id", sid.String()))
	defer span.End()

	emit(protocol.StreamChunk{
		SessionID: sid,
		Type:      protocol.ChunkSession,
		Delta:     sid.String(),
	})

	fail := func(err error) error {
		a.setStatus(session, StatusFailed, 0)
		emit(protocol.StreamChunk{
			SessionID: sid,
			Type:      protocol.ChunkError,
			Delta:     err.Error(),
		})
		return err
	}

	if _, err := a.memory.AddMessage(ctx, sid, memory.NewMessage(memory.RoleUser, userMessage)); err != nil {
		return fail(fmt.Errorf("add user message: %w", err))
	}

	snap := a.cfg.Snapshot()
	maxIterations := snap.Agent.MaxIterations
	defs := a.registry.Definitions()

	interruptedDone := func(iteration int) {
		a.setStatus(session, StatusInterrupted, iteration)
		emit(protocol.StreamChunk{
			SessionID: sid,
			Type:      protocol.ChunkDone,
			Delta:     protocol.InterruptedDelta,
		})
	}

	pendingToolCalls := false
	for iteration := 0; iteration < maxIterations; iteration++ {
		if sig.fired.Load() {
			interruptedDone(iteration)
			return nil
		}
		a.setStatus(session, StatusProcessing, iteration)

		// Partial output is accumulated locally so an interrupt mid-stream
		// still persists what the model already said.
		var content, thinking string

		callCtx, cancel := context.WithCancel(ctx)
		sig.setCancel(cancel)
		resp, err := a.provider.ChatStream(callCtx, providers.ChatRequest{
			Messages: a.memory.PromptMessages(sid),
			Tools:    defs,
			Options:  a.requestOptions(snap),
		}, func(chunk providers.StreamChunk) {
			if chunk.Thinking != "" {
				thinking += chunk.Thinking
				emit(protocol.StreamChunk{
					SessionID: sid,
					Type:      protocol.ChunkThinking,
					Thinking:  chunk.Thinking,
				})
			}
			if chunk.Content != "" {
				content += chunk.Content
				emit(protocol.StreamChunk{
					SessionID: sid,
					Type:      protocol.ChunkContent,
					Delta:     chunk.Content,
				})
			}
		})
		cancel()
		sig.setCancel(nil)

		if err != nil {
			if sig.fired.Load() {
				// The provider stream was torn down by the interrupt.
				// Persist the partial assistant message verbatim.
				if content != "" || thinking != "" {
					partial := memory.NewMessage(memory.RoleAssistant, content)
					if _, err := a.memory.AddMessage(ctx, sid, partial); err != nil {
						return fail(fmt.Errorf("persist partial message: %w", err))
					}
				}
				interruptedDone(iteration)
				return nil
			}
			return fail(fmt.Errorf("llm stream: %w", err))
		}

		assistant := memory.NewMessage(memory.RoleAssistant, resp.Content)
		assistant.ToolCalls = resp.ToolCalls
		if _, err := a.memory.AddMessage(ctx, sid, assistant); err != nil {
			return fail(fmt.Errorf("add assistant message: %w", err))
		}

		if len(resp.ToolCalls) == 0 {
			pendingToolCalls = false
			break
		}
		pendingToolCalls = true

		emit(protocol.StreamChunk{
			SessionID: sid,
			Type:      protocol.ChunkToolCall,
			ToolCalls: toFrames(resp.ToolCalls),
		})

		// Todo snapshots flush into the stream before the next LLM call so
		// clients see the updated plan ahead of further content.
		onSnapshot := func() {
			if list, err := a.todos.Get(ctx, sid); err == nil && list != nil {
				emit(protocol.StreamChunk{
					SessionID: sid,
					Type:      protocol.ChunkTodoList,
					TodoList:  list,
				})
			}
		}
		if err := a.dispatchTools(ctx, sid, resp.ToolCalls, onSnapshot); err != nil {
			return fail(err)
		}

		if sig.fired.Load() {
			interruptedDone(iteration)
			return nil
		}
	}

	if pendingToolCalls {
		return fail(fmt.Errorf("Reached max tool iterations (%d) without completion", maxIterations))
	}

	a.setStatus(session, StatusCompleted, 0)
	emit(protocol.StreamChunk{
		SessionID: sid,
		Type:      protocol.ChunkDone,
	})
	return nil
}

func toFrames(calls []providers.ToolCall) []protocol.ToolCallFrame {
	frames := make([]protocol.ToolCallFrame, len(calls))
	for i, c := range calls {
		frames[i] = protocol.ToolCallFrame{
			ID:        c.ID,
			Name:      c.Name,
			Arguments: c.Arguments,
		}
	}
	return frames
}
