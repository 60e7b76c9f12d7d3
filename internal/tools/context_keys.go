package tools

import (
	"context"

	"github.com/google/uuid"
)

// Tool execution context keys. Per-call state travels on the context so
// tool instances stay stateless and safe for concurrent execution.

type toolContextKey string

const ctxSessionID toolContextKey = "tool_session_id"

// WithSessionID tags the context with the session the tool call belongs to.
func WithSessionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxSessionID, id)
}

// SessionIDFromCtx returns the session id, or uuid.Nil when absent.
func SessionIDFromCtx(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(ctxSessionID).(uuid.UUID)
	return v
}
