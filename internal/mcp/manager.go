// Package mcp connects to Model Context Protocol servers and exposes
// their tools through the shared registry.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
	callTimeout          = 60 * time.Second
)

// ServerStatus reports the connection status of one MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	connected atomic.Bool
	toolNames []string
	cancel    context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager owns MCP server connections and tool registration.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry
	configs  []config.MCPServerConfig
}

func NewManager(registry *tools.Registry, configs []config.MCPServerConfig) *Manager {
	return &Manager{
		servers:  make(map[string]*serverState),
		registry: registry,
		configs:  configs,
	}
}

// Start connects to all enabled servers. Non-fatal: a server that fails to
// connect is logged and skipped so the rest of the runtime comes up.
func (m *Manager) Start(ctx context.Context) {
	for _, cfg := range m.configs {
		if !cfg.IsEnabled() {
			slog.Info("mcp server disabled", "server", cfg.Name)
			continue
		}
		if err := m.connectServer(ctx, cfg); err != nil {
			slog.Warn("mcp server connect failed", "server", cfg.Name, "error", err)
		}
	}
}

// Stop closes all connections and unregisters their tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if err := ss.client.Close(); err != nil {
			slog.Debug("mcp server close error", "server", name, "error", err)
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

// Status returns the status of all servers.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     lastErr,
		})
	}
	return statuses
}

// connectServer creates the client, runs the MCP handshake, discovers
// tools, and registers them.
func (m *Manager) connectServer(ctx context.Context, cfg config.MCPServerConfig) error {
	client, transportType, err := createClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// Stdio auto-starts; HTTP transports need explicit Start.
	if transportType != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "agentd",
		Version: "1.0.0",
	}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{
		name:      cfg.Name,
		transport: transportType,
		client:    client,
	}
	ss.connected.Store(true)

	var registered []string
	for _, mcpTool := range toolsResult.Tools {
		bt := newBridgeTool(cfg.Name, mcpTool, client, &ss.connected)
		if err := m.registry.Register(bt); err != nil {
			slog.Warn("mcp tool name collision, skipped",
				"server", cfg.Name, "tool", bt.Name())
			continue
		}
		registered = append(registered, bt.Name())
	}
	ss.toolNames = registered

	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[cfg.Name] = ss
	m.mu.Unlock()

	slog.Info("mcp server connected",
		"server", cfg.Name,
		"transport", transportType,
		"tools", len(registered))
	return nil
}

// createClient infers the transport from the config: a URL means
// streamable HTTP, a command means stdio.
func createClient(cfg config.MCPServerConfig) (*mcpclient.Client, string, error) {
	switch {
	case cfg.URL != "":
		c, err := mcpclient.NewStreamableHttpClient(cfg.URL)
		return c, "streamable-http", err
	case cfg.Command != "":
		c, err := mcpclient.NewStdioMCPClient(cfg.Command, nil, cfg.Args...)
		return c, "stdio", err
	default:
		return nil, "", fmt.Errorf("server %q has neither url nor command", cfg.Name)
	}
}

// healthLoop pings the server periodically and reconnects with backoff.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := ss.client.Ping(ctx)
			if err == nil {
				ss.markHealthy()
				continue
			}
			// Servers without a "ping" method are still alive.
			if strings.Contains(strings.ToLower(err.Error()), "method not found") {
				ss.markHealthy()
				continue
			}

			ss.connected.Store(false)
			ss.mu.Lock()
			ss.lastErr = err.Error()
			ss.mu.Unlock()

			slog.Warn("mcp health check failed", "server", ss.name, "error", err)
			m.tryReconnect(ctx, ss)
		}
	}
}

func (ss *serverState) markHealthy() {
	ss.connected.Store(true)
	ss.mu.Lock()
	ss.reconnAttempts = 0
	ss.lastErr = ""
	ss.mu.Unlock()
}

func (m *Manager) tryReconnect(ctx context.Context, ss *serverState) {
	ss.mu.Lock()
	if ss.reconnAttempts >= maxReconnectAttempts {
		ss.lastErr = fmt.Sprintf("max reconnect attempts (%d) reached", maxReconnectAttempts)
		ss.mu.Unlock()
		slog.Error("mcp reconnect attempts exhausted", "server", ss.name)
		return
	}
	ss.reconnAttempts++
	attempt := ss.reconnAttempts
	ss.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	slog.Info("mcp server reconnecting", "server", ss.name, "attempt", attempt, "backoff", backoff)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	// The transport may have recovered on its own.
	if err := ss.client.Ping(ctx); err == nil {
		ss.markHealthy()
		slog.Info("mcp server reconnected", "server", ss.name)
	}
}
