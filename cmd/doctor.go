package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/sandbox"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("agentd doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	snap := cfg.Snapshot()

	fmt.Println()
	fmt.Println("  Provider:")
	checkSecret("API key", snap.OpenAI.APIKey)
	fmt.Printf("    %-12s %s\n", "API base:", snap.OpenAI.APIBase)
	fmt.Printf("    %-12s %s\n", "Model:", snap.OpenAI.Model)

	fmt.Println()
	fmt.Println("  Server:")
	fmt.Printf("    %-12s %s:%d\n", "Listen:", snap.Server.Host, snap.Server.Port)
	checkSecret("Auth token", snap.Server.Token)

	fmt.Println()
	fmt.Println("  Database:")
	switch {
	case snap.Database.PostgresDSN != "":
		fmt.Printf("    %-12s postgres\n", "Backend:")
		checkPostgres(snap.Database.PostgresDSN)
	case snap.Database.SQLitePath != "":
		fmt.Printf("    %-12s sqlite (%s)\n", "Backend:", snap.Database.SQLitePath)
	default:
		fmt.Printf("    %-12s file (%s)\n", "Backend:", config.ExpandHome(snap.Sessions.Storage))
	}

	fmt.Println()
	fmt.Println("  Sandbox:")
	fmt.Printf("    %-12s %s\n", "Image:", snap.Sandbox.Image)
	checkDocker(snap)

	fmt.Println()
	fmt.Println("  Tools:")
	checkSecret("Brave key", snap.Tools.Web.Brave.APIKey)
	fmt.Printf("    %-12s %v\n", "DuckDuckGo:", snap.Tools.Web.DuckDuckGo.Enabled)
	for _, srv := range snap.MCP {
		status := "enabled"
		if !srv.IsEnabled() {
			status = "disabled"
		}
		fmt.Printf("    %-12s %s\n", "MCP "+srv.Name+":", status)
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("docker")
	checkBinary("curl")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := value
	if len(value) > 8 {
		masked = value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkPostgres(dsn string) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Status:")
}

func checkDocker(snap config.Config) {
	mgr, err := sandbox.NewManager(snap.Sandbox)
	if err != nil {
		fmt.Printf("    %-12s UNAVAILABLE (%s)\n", "Docker:", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Ping(ctx); err != nil {
		fmt.Printf("    %-12s UNAVAILABLE (%s)\n", "Docker:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Docker:")
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
