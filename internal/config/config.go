package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the agentd runtime.
type Config struct {
	Server    ServerConfig      `json:"server"`
	OpenAI    OpenAIConfig      `json:"openai"`
	Agent     AgentConfig       `json:"agent"`
	Memory    MemoryConfig      `json:"memory"`
	Queue     QueueConfig       `json:"queue,omitempty"`
	Sandbox   SandboxConfig     `json:"sandbox,omitempty"`
	Sessions  SessionsConfig    `json:"sessions"`
	Database  DatabaseConfig    `json:"database,omitempty"`
	Tools     ToolsConfig       `json:"tools,omitempty"`
	MCP       []MCPServerConfig `json:"mcp,omitempty"`
	Telemetry TelemetryConfig   `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// ServerConfig configures the HTTP/WebSocket API listener.
type ServerConfig struct {
	Host            string              `json:"host"`
	Port            int                 `json:"port"`
	Token           string              `json:"-"` // from env AGENTD_TOKEN only
	AllowedOrigins  FlexibleStringSlice `json:"allowed_origins,omitempty"`
	RateLimitRPM    int                 `json:"rate_limit_rpm,omitempty"` // 0 = disabled
	MaxMessageChars int                 `json:"max_message_chars,omitempty"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
// APIKey is NEVER read from config.json (secret) — only from env AGENTD_OPENAI_API_KEY.
type OpenAIConfig struct {
	APIKey      string  `json:"-"` // from env AGENTD_OPENAI_API_KEY only
	APIBase     string  `json:"api_base,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TimeoutSec  int     `json:"timeout_sec,omitempty"`
	MaxRetries  int     `json:"max_retries,omitempty"`
}

// AgentConfig configures the agent loop.
type AgentConfig struct {
	MaxIterations    int     `json:"max_iterations"`
	IterationTimeout float64 `json:"iteration_timeout_sec,omitempty"`
	MaxParallelTools int     `json:"max_parallel_tools"`
	ToolTimeoutSec   int     `json:"tool_timeout_sec,omitempty"`
	SystemPrompt     string  `json:"system_prompt,omitempty"`
}

// MemoryConfig configures the token-accounted context window.
type MemoryConfig struct {
	MaxContextTokens     int     `json:"max_context_tokens"`
	CompressionThreshold float64 `json:"compression_threshold"`
	TargetRatio          float64 `json:"target_ratio"`
	SummaryMaxTokens     int     `json:"summary_max_tokens"`
}

// QueueConfig configures the in-process priority message queue.
type QueueConfig struct {
	MaxSize        int     `json:"max_size,omitempty"`
	RatePerSecond  float64 `json:"rate_per_second,omitempty"`
	RetryAttempts  int     `json:"retry_attempts,omitempty"`
	RetryDelaySec  float64 `json:"retry_delay_sec,omitempty"`
}

// SandboxConfig configures Docker-based python execution.
type SandboxConfig struct {
	Image            string `json:"image,omitempty"`
	PullOnStart      bool   `json:"pull_on_start,omitempty"`
	ContainerWorkdir string `json:"container_workdir,omitempty"`
	MemoryLimitMB    int    `json:"memory_limit_mb,omitempty"`
	CPUQuota         int64  `json:"cpu_quota,omitempty"`
	CPUPeriod        int64  `json:"cpu_period,omitempty"`
	PidsLimit        int64  `json:"pids_limit,omitempty"`
	NetworkEnabled   bool   `json:"network_enabled,omitempty"`
	TimeoutSec       int    `json:"timeout_sec,omitempty"`
	MaxTimeoutSec    int    `json:"max_timeout_sec,omitempty"`
	MaxOutputBytes   int    `json:"max_output_bytes,omitempty"`
}

// SessionsConfig configures the file-backed session store.
type SessionsConfig struct {
	Storage string `json:"storage"`
}

// DatabaseConfig selects the persistence backend.
// PostgresDSN is NEVER read from config.json (secret) — only from env AGENTD_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`                // from env AGENTD_POSTGRES_DSN only
	SQLitePath  string `json:"sqlite,omitempty"` // embedded backend when set and no DSN
}

// ToolsConfig configures builtin tools.
type ToolsConfig struct {
	Web WebToolsConfig `json:"web,omitempty"`
}

// WebToolsConfig configures the web_search tool.
type WebToolsConfig struct {
	DuckDuckGo DuckDuckGoConfig `json:"duckduckgo,omitempty"`
	Brave      BraveConfig      `json:"brave,omitempty"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled,omitempty"`
	MaxResults int  `json:"max_results,omitempty"`
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	APIKey     string `json:"-"` // from env AGENTD_BRAVE_API_KEY only
	MaxResults int    `json:"max_results,omitempty"`
}

// MCPServerConfig describes one external MCP tool server.
type MCPServerConfig struct {
	Name    string              `json:"name"`
	Command string              `json:"command,omitempty"` // stdio transport
	Args    FlexibleStringSlice `json:"args,omitempty"`
	URL     string              `json:"url,omitempty"` // streamable HTTP transport
	Enabled *bool               `json:"enabled,omitempty"`
}

// IsEnabled reports whether the MCP server should be connected (default true).
func (m MCPServerConfig) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

// TelemetryConfig configures OpenTelemetry OTLP export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the hot-reload watcher.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = src.Server
	c.OpenAI = src.OpenAI
	c.Agent = src.Agent
	c.Memory = src.Memory
	c.Queue = src.Queue
	c.Sandbox = src.Sandbox
	c.Sessions = src.Sessions
	c.Database = src.Database
	c.Tools = src.Tools
	c.MCP = src.MCP
	c.Telemetry = src.Telemetry
}

// Snapshot returns a copy of the data fields for lock-free reads.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Server:    c.Server,
		OpenAI:    c.OpenAI,
		Agent:     c.Agent,
		Memory:    c.Memory,
		Queue:     c.Queue,
		Sandbox:   c.Sandbox,
		Sessions:  c.Sessions,
		Database:  c.Database,
		Tools:     c.Tools,
		MCP:       c.MCP,
		Telemetry: c.Telemetry,
	}
}
