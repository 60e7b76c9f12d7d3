package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/agent"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/events"
	"github.com/nextlevelbuilder/agentd/internal/mcp"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/sandbox"
	"github.com/nextlevelbuilder/agentd/internal/server"
	"github.com/nextlevelbuilder/agentd/internal/store"
	"github.com/nextlevelbuilder/agentd/internal/store/file"
	"github.com/nextlevelbuilder/agentd/internal/store/pg"
	"github.com/nextlevelbuilder/agentd/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentd/internal/todo"
	"github.com/nextlevelbuilder/agentd/internal/tools"
	"github.com/nextlevelbuilder/agentd/internal/tracing"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	if snap.OpenAI.APIKey == "" {
		slog.Error("no API key configured, set AGENTD_OPENAI_API_KEY")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := tracing.Setup(ctx, snap.Telemetry, Version)
	if err != nil {
		slog.Warn("telemetry setup failed", "error", err)
	} else {
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			_ = shutdownTracing(flushCtx)
		}()
	}

	stores, backend := openStores(&snap)
	defer stores.Close()
	slog.Info("storage ready", "backend", backend)

	provider := providers.NewOpenAIProvider("openai",
		snap.OpenAI.APIKey, snap.OpenAI.APIBase, snap.OpenAI.Model)
	if snap.OpenAI.TimeoutSec > 0 {
		provider = provider.WithTimeout(time.Duration(snap.OpenAI.TimeoutSec) * time.Second)
	}
	if snap.OpenAI.MaxRetries > 0 {
		retryCfg := providers.DefaultRetryConfig()
		retryCfg.MaxRetries = snap.OpenAI.MaxRetries
		provider = provider.WithRetryConfig(retryCfg)
	}

	mem := memory.NewManager(provider, snap.Memory, snap.OpenAI.Model).
		WithPersister(stores.Sessions)
	if sessions, loadErr := stores.Sessions.LoadSessions(ctx); loadErr != nil {
		slog.Warn("session restore failed", "error", loadErr)
	} else if len(sessions) > 0 {
		mem.Restore(sessions)
		slog.Info("sessions restored", "count", len(sessions))
	}

	todos := todo.NewService(stores.Todos)

	registry := tools.NewRegistry()
	registerBuiltinTools(ctx, registry, &snap, todos)

	mcpMgr := mcp.NewManager(registry, snap.MCP)
	mcpMgr.Start(ctx)
	defer mcpMgr.Stop()

	executor := tools.NewExecutor(registry,
		snap.Agent.MaxParallelTools,
		time.Duration(snap.Agent.ToolTimeoutSec)*time.Second)

	hub := events.NewHub()
	todos.OnUpdate(func(sessionID uuid.UUID, list *protocol.TodoList) {
		hub.Broadcast(protocol.Event{
			Name: protocol.EventTodo,
			Payload: map[string]interface{}{
				"session_id": sessionID,
				"todo_list":  list,
			},
		})
	})

	chatAgent := agent.New(provider, mem, registry, executor, todos, cfg)

	go func() {
		if watchErr := config.Watch(ctx, cfgPath, cfg, func() {
			slog.Info("config reloaded", "path", cfgPath)
		}); watchErr != nil {
			slog.Warn("config watcher unavailable", "error", watchErr)
		}
	}()

	srv := server.NewServer(cfg, chatAgent, hub)

	slog.Info("agentd starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"model", snap.OpenAI.Model,
		"tools", registry.Count(),
		"addr", snap.Server.Host, "port", snap.Server.Port,
	)

	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openStores picks the persistence backend: Postgres DSN wins, then the
// embedded SQLite file, then plain JSON files.
func openStores(snap *config.Config) (*store.Stores, string) {
	if dsn := snap.Database.PostgresDSN; dsn != "" {
		stores, err := pg.NewStores(dsn)
		if err != nil {
			slog.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		return stores, "postgres"
	}
	if path := snap.Database.SQLitePath; path != "" {
		stores, err := sqlite.New(config.ExpandHome(path))
		if err != nil {
			slog.Error("sqlite unavailable", "error", err)
			os.Exit(1)
		}
		return stores, "sqlite"
	}
	stores, err := file.New(config.ExpandHome(snap.Sessions.Storage))
	if err != nil {
		slog.Error("file store unavailable", "error", err)
		os.Exit(1)
	}
	return stores, "file"
}

func registerBuiltinTools(ctx context.Context, registry *tools.Registry, snap *config.Config, todos *todo.Service) {
	registry.Register(tools.NewCalculatorTool())
	registry.Register(tools.NewDateTimeTool())
	registry.Register(tools.NewManageTodoTool(todos))

	if webSearch := tools.NewWebSearchTool(snap.Tools.Web); webSearch != nil {
		registry.Register(webSearch)
	}
	registry.Register(tools.NewWebFetchTool())

	// Python execution requires a reachable Docker daemon; skip the tool
	// (with a warning) rather than failing startup.
	sandboxMgr, err := sandbox.NewManager(snap.Sandbox)
	if err != nil {
		slog.Warn("sandbox disabled: docker client init failed", "error", err)
		return
	}
	if err := sandboxMgr.Ping(ctx); err != nil {
		slog.Warn("sandbox disabled: docker not reachable", "error", err)
		return
	}
	if snap.Sandbox.PullOnStart {
		if err := sandboxMgr.PullImage(ctx); err != nil {
			slog.Warn("sandbox image pull failed", "image", snap.Sandbox.Image, "error", err)
		}
	}
	registry.Register(tools.NewPythonExecutorTool(sandboxMgr))
	slog.Info("sandbox enabled", "image", snap.Sandbox.Image)
}
