package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/todo"
)

// TodoToolName is recognized by the agent loop, which routes calls to the
// todo service so list snapshots can be flushed to the stream between
// iterations. The tool also works standalone for direct execution.
const TodoToolName = "manage_todo_list"

// ManageTodoTool lets the LLM create or wholesale-replace the session's
// todo list. Each call carries the complete desired state, never a diff.
type ManageTodoTool struct {
	service *todo.Service
}

func NewManageTodoTool(service *todo.Service) *ManageTodoTool {
	return &ManageTodoTool{service: service}
}

func (t *ManageTodoTool) Name() string { return TodoToolName }

func (t *ManageTodoTool) Description() string {
	return "Create or update a task progress list. Call this whenever you start " +
		"a multi-step task. Send the COMPLETE list every time (not a diff). " +
		"Statuses: pending (not started), running (currently executing), " +
		"completed (finished). Only ONE item should be 'running' at a time."
}

func (t *ManageTodoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short title describing the overall task",
			},
			"items": map[string]interface{}{
				"type":        "array",
				"description": "Complete ordered list of todo items",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"label": map[string]interface{}{
							"type":        "string",
							"description": "Short description of this step",
						},
						"status": map[string]interface{}{
							"type":        "string",
							"enum":        []string{"pending", "running", "completed"},
							"description": "Current status",
						},
					},
					"required": []string{"label", "status"},
				},
			},
		},
		"required": []string{"title", "items"},
	}
}

func (t *ManageTodoTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	sessionID := SessionIDFromCtx(ctx)
	if sessionID == uuid.Nil {
		return ErrorResult("no session bound to this tool call")
	}

	title, items, err := todo.ParseArgs(args)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid todo list: %v", err))
	}

	list, err := t.service.CreateOrReplace(ctx, sessionID, title, items)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to update todo list: %v", err)).WithError(err)
	}

	return NewResult(fmt.Sprintf("%s\n(revision %d)", todo.Summary(title, items), list.Revision))
}
