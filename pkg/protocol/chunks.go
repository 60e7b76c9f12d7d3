package protocol

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is bumped on breaking changes to the wire format.
const ProtocolVersion = 1

// Stream chunk types emitted over SSE and WebSocket.
const (
	ChunkSession  = "session"
	ChunkThinking = "thinking"
	ChunkContent  = "content"
	ChunkToolCall = "tool_call"
	ChunkTodoList = "todo_list"
	ChunkDone     = "done"
	ChunkError    = "error"
)

// InterruptedDelta is the delta carried by the terminal chunk of an
// interrupted run.
const InterruptedDelta = "[已中断]"

// StreamChunk is one frame of a streamed agent response.
type StreamChunk struct {
	SessionID uuid.UUID        `json:"session_id"`
	Type      string           `json:"type"`
	Delta     string           `json:"delta"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ToolCallFrame  `json:"tool_calls,omitempty"`
	TodoList  *TodoList        `json:"todo_list,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// ToolCallFrame is a fully assembled tool call as shown to stream consumers.
type ToolCallFrame struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Todo item statuses. Exactly three states; unknown inputs normalize to pending.
const (
	TodoPending   = "pending"
	TodoRunning   = "running"
	TodoCompleted = "completed"
)

// TodoItem is a single step in a session todo list.
type TodoItem struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Status     string `json:"status"`
	OrderIndex int    `json:"order_index"`
}

// Todo list statuses. A list is active until every item completes.
const (
	TodoListActive    = "active"
	TodoListCompleted = "completed"
)

// TodoList is the full snapshot broadcast after every mutation.
type TodoList struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	Items     []TodoItem `json:"items"`
	Revision  int        `json:"revision"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Event is a named payload pushed to WebSocket subscribers.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// WebSocket event names.
const (
	EventChunk    = "chat.chunk"
	EventTodo     = "todo.updated"
	EventSession  = "session.updated"
	EventShutdown = "shutdown"
)
