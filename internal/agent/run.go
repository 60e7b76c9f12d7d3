package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/tools"
	"github.com/nextlevelbuilder/agentd/internal/tracing"
)

// RunResult is the buffered outcome of one conversation turn.
type RunResult struct {
	SessionID  uuid.UUID       `json:"session_id"`
	Content    string          `json:"content"`
	Thinking   string          `json:"thinking,omitempty"`
	Status     string          `json:"status"`
	Iterations int             `json:"iterations"`
	Usage      providers.Usage `json:"usage"`
}

// Run executes one buffered conversation turn. A Nil session id creates a
// fresh session.
func (a *ChatAgent) Run(ctx context.Context, sessionID uuid.UUID, userMessage string) (*RunResult, error) {
	session, err := a.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	lock := a.memory.SessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	sig := a.registerRun(session.ID)
	defer a.unregisterRun(session.ID, sig)
	a.totalRuns.Add(1)

	ctx, span := tracing.Tracer().Start(ctx, "agent.run")
	span.SetAttributes(attribute.String("session.id", session.ID.String()))
	defer span.End()

	if _, err := a.memory.AddMessage(ctx, session.ID, memory.NewMessage(memory.RoleUser, userMessage)); err != nil {
		return nil, fmt.Errorf("add user message: %w", err)
	}

	snap := a.cfg.Snapshot()
	maxIterations := snap.Agent.MaxIterations
	defs := a.registry.Definitions()

	result := &RunResult{SessionID: session.ID, Status: StatusProcessing}
	var lastResponse *providers.ChatResponse

	for iteration := 0; iteration < maxIterations; iteration++ {
		if sig.fired.Load() {
			a.setStatus(session, StatusInterrupted, iteration)
			result.Status = StatusInterrupted
			return result, nil
		}
		a.setStatus(session, StatusProcessing, iteration)
		result.Iterations = iteration + 1

		callCtx, cancel := context.WithCancel(ctx)
		sig.setCancel(cancel)
		resp, err := a.provider.Chat(callCtx, providers.ChatRequest{
			Messages: a.memory.PromptMessages(session.ID),
			Tools:    defs,
			Options:  a.requestOptions(snap),
		})
		cancel()
		sig.setCancel(nil)

		if err != nil {
			if sig.fired.Load() {
				a.setStatus(session, StatusInterrupted, iteration)
				result.Status = StatusInterrupted
				return result, nil
			}
			a.setStatus(session, StatusFailed, iteration)
			return nil, fmt.Errorf("llm call: %w", err)
		}
		lastResponse = resp
		accumulateUsage(&result.Usage, resp.Usage)

		assistant := memory.NewMessage(memory.RoleAssistant, resp.Content)
		assistant.ToolCalls = resp.ToolCalls
		if _, err := a.memory.AddMessage(ctx, session.ID, assistant); err != nil {
			return nil, fmt.Errorf("add assistant message: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			result.Thinking = resp.Thinking
			result.Status = StatusCompleted
			a.setStatus(session, StatusCompleted, iteration)
			return result, nil
		}

		if err := a.dispatchTools(ctx, session.ID, resp.ToolCalls, nil); err != nil {
			a.setStatus(session, StatusFailed, iteration)
			return nil, err
		}
	}

	// Ran out of iterations with tool calls still pending.
	a.setStatus(session, StatusFailed, maxIterations)
	if lastResponse != nil && len(lastResponse.ToolCalls) > 0 {
		return nil, fmt.Errorf("Reached max tool iterations (%d) without completion", maxIterations)
	}
	return nil, fmt.Errorf("llm returned no response")
}

// dispatchTools runs one iteration's tool calls and appends their results
// as role=tool messages. Calls to the todo tool are routed to the todo
// service in declared order; everything else goes through the bounded
// executor. onSnapshot, when set, receives each todo snapshot produced.
func (a *ChatAgent) dispatchTools(ctx context.Context, sessionID uuid.UUID, calls []providers.ToolCall, onSnapshot func()) error {
	var todoCalls, otherCalls []providers.ToolCall
	for i := range calls {
		tools.EnsureCallID(&calls[i])
		if calls[i].Name == tools.TodoToolName && a.todos != nil {
			todoCalls = append(todoCalls, calls[i])
		} else {
			otherCalls = append(otherCalls, calls[i])
		}
	}

	results := make(map[string]toolsExecOutcome, len(calls))

	toolCtx := tools.WithSessionID(ctx, sessionID)
	for _, call := range todoCalls {
		res := a.handleTodoCall(toolCtx, sessionID, call)
		results[call.ID] = res
		if onSnapshot != nil {
			onSnapshot()
		}
	}

	if len(otherCalls) > 0 {
		for _, r := range a.executor.Execute(toolCtx, sessionID, otherCalls) {
			results[r.ToolCallID] = toolsExecOutcome{content: r.Content, isError: r.IsError}
		}
		a.toolExecutions.Add(int64(len(otherCalls)))
	}

	// Tool messages append in the original call order so the transcript
	// matches what the provider asked for.
	for _, call := range calls {
		out := results[call.ID]
		msg := memory.NewMessage(memory.RoleTool, out.content)
		msg.ToolCallID = call.ID
		if _, err := a.memory.AddMessage(ctx, sessionID, msg); err != nil {
			return fmt.Errorf("add tool message: %w", err)
		}
	}
	return nil
}

type toolsExecOutcome struct {
	content string
	isError bool
}

func (a *ChatAgent) handleTodoCall(ctx context.Context, sessionID uuid.UUID, call providers.ToolCall) toolsExecOutcome {
	if call.Arguments == nil {
		return toolsExecOutcome{content: "Invalid JSON arguments", isError: true}
	}
	tool, ok := a.registry.Get(tools.TodoToolName)
	if !ok {
		return toolsExecOutcome{content: fmt.Sprintf("Tool '%s' not found", call.Name), isError: true}
	}
	res := tool.Execute(ctx, call.Arguments)
	if res == nil {
		return toolsExecOutcome{content: "Tool returned no result", isError: true}
	}
	if res.Err != nil {
		slog.Warn("todo tool error", "session_id", sessionID, "error", res.Err)
	}
	return toolsExecOutcome{content: res.ForLLM, isError: res.IsError}
}

func (a *ChatAgent) requestOptions(snap config.Config) map[string]interface{} {
	opts := make(map[string]interface{})
	if snap.OpenAI.MaxTokens > 0 {
		opts[providers.OptMaxTokens] = snap.OpenAI.MaxTokens
	}
	if snap.OpenAI.Temperature > 0 {
		opts[providers.OptTemperature] = snap.OpenAI.Temperature
	}
	return opts
}

func accumulateUsage(total *providers.Usage, u *providers.Usage) {
	if u == nil {
		return
	}
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
