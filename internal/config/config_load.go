package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			MaxMessageChars: 32000,
		},
		OpenAI: OpenAIConfig{
			APIBase:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   4096,
			Temperature: 0.7,
			TimeoutSec:  60,
			MaxRetries:  3,
		},
		Agent: AgentConfig{
			MaxIterations:    10,
			IterationTimeout: 300,
			MaxParallelTools: 5,
			ToolTimeoutSec:   30,
		},
		Memory: MemoryConfig{
			MaxContextTokens:     128000,
			CompressionThreshold: 0.92,
			TargetRatio:          0.3,
			SummaryMaxTokens:     500,
		},
		Queue: QueueConfig{
			MaxSize:       10000,
			RatePerSecond: 10,
			RetryAttempts: 3,
			RetryDelaySec: 1,
		},
		Sandbox: SandboxConfig{
			Image:            "agentd-sandbox:latest",
			ContainerWorkdir: "/workspace",
			MemoryLimitMB:    256,
			CPUQuota:         50000,
			CPUPeriod:        100000,
			PidsLimit:        64,
			TimeoutSec:       30,
			MaxTimeoutSec:    120,
			MaxOutputBytes:   64 * 1024,
		},
		Sessions: SessionsConfig{
			Storage: "~/.agentd/sessions",
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets come only from env.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AGENTD_OPENAI_API_KEY", &c.OpenAI.APIKey)
	envStr("AGENTD_OPENAI_API_BASE", &c.OpenAI.APIBase)
	envStr("AGENTD_MODEL", &c.OpenAI.Model)

	envStr("AGENTD_TOKEN", &c.Server.Token)
	envStr("AGENTD_HOST", &c.Server.Host)
	if v := os.Getenv("AGENTD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	envStr("AGENTD_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AGENTD_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("AGENTD_SESSIONS_STORAGE", &c.Sessions.Storage)

	envStr("AGENTD_BRAVE_API_KEY", &c.Tools.Web.Brave.APIKey)
	if c.Tools.Web.Brave.APIKey != "" {
		c.Tools.Web.Brave.Enabled = true
	}

	envStr("AGENTD_SANDBOX_IMAGE", &c.Sandbox.Image)
	if v := os.Getenv("AGENTD_SANDBOX_NETWORK"); v != "" {
		c.Sandbox.NetworkEnabled = v == "true" || v == "1"
	}

	envStr("AGENTD_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AGENTD_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AGENTD_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("AGENTD_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTD_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file. Secrets are json:"-" and never persist.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
