// Package tools defines the tool interface, the registry exposed to the
// LLM, and the bounded-parallel executor.
package tools

import (
	"context"

	"github.com/nextlevelbuilder/agentd/internal/providers"
)

// Tool is one callable capability exposed to the LLM.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Definition converts a tool to the provider wire schema.
func Definition(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
