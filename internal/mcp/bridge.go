package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/agentd/internal/tools"
)

// bridgeTool adapts one remote MCP tool to the local tools.Tool interface.
// Registered names are prefixed with the server name to avoid collisions
// between servers exposing identically named tools.
type bridgeTool struct {
	serverName  string
	mcpTool     mcpgo.Tool
	client      *mcpclient.Client
	connected   *atomic.Bool
	localName   string
	description string
}

func newBridgeTool(serverName string, mcpTool mcpgo.Tool, client *mcpclient.Client, connected *atomic.Bool) *bridgeTool {
	desc := mcpTool.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool %s from server %s", mcpTool.Name, serverName)
	}
	return &bridgeTool{
		serverName:  serverName,
		mcpTool:     mcpTool,
		client:      client,
		connected:   connected,
		localName:   serverName + "__" + mcpTool.Name,
		description: desc,
	}
}

func (t *bridgeTool) Name() string        { return t.localName }
func (t *bridgeTool) Description() string { return t.description }

func (t *bridgeTool) Parameters() map[string]interface{} {
	// The MCP schema is already JSON Schema; round-trip it into the
	// generic map shape the provider layer expects.
	data, err := json.Marshal(t.mcpTool.InputSchema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var params map[string]interface{}
	if err := json.Unmarshal(data, &params); err != nil || params["type"] == nil {
		return map[string]interface{}{"type": "object"}
	}
	return params
}

func (t *bridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !t.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %q is not connected", t.serverName))
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.mcpTool.Name
	req.Params.Arguments = args

	result, err := t.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("MCP call failed: %v", err)).WithError(err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

// flattenContent joins the textual parts of an MCP result. Non-text parts
// are represented by a short placeholder.
func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[non-text content: %T]", c))
	}
	if len(parts) == 0 {
		return "(empty result)"
	}
	return strings.Join(parts, "\n")
}

var _ tools.Tool = (*bridgeTool)(nil)
