package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func openStoresForCLI() (*store.Stores, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	snap := cfg.Snapshot()
	stores, _ := openStores(&snap)
	return stores, nil
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStoresForCLI()
			if err != nil {
				return err
			}
			defer stores.Close()

			sessions, err := stores.Sessions.LoadSessions(context.Background())
			if err != nil {
				return fmt.Errorf("load sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions stored.")
				return nil
			}

			sort.Slice(sessions, func(i, j int) bool {
				return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
			})

			printSessionsTable(sessions)
			return nil
		},
	}
}

// printSessionsTable renders a width-aware table: titles are frequently
// CJK, so alignment uses display width, not byte length.
func printSessionsTable(sessions []*memory.Session) {
	const titleWidth = 28

	fmt.Printf("%-36s  %s  %5s  %s\n",
		"ID", runewidth.FillRight("TITLE", titleWidth), "MSGS", "UPDATED")
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "-"
		}
		title = runewidth.Truncate(title, titleWidth, "…")
		fmt.Printf("%-36s  %s  %5d  %s\n",
			s.ID,
			runewidth.FillRight(title, titleWidth),
			len(s.Messages),
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	fmt.Printf("\n%d session(s)\n", len(sessions))
}

func sessionsShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}

			stores, err := openStoresForCLI()
			if err != nil {
				return err
			}
			defer stores.Close()

			sessions, err := stores.Sessions.LoadSessions(context.Background())
			if err != nil {
				return fmt.Errorf("load sessions: %w", err)
			}
			var session *memory.Session
			for _, s := range sessions {
				if s.ID == id {
					session = s
					break
				}
			}
			if session == nil {
				return fmt.Errorf("session %s not found", id)
			}

			title := session.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("Session %s — %s\n", session.ID, title)
			fmt.Printf("Created %s, updated %s, %d message(s)\n\n",
				session.CreatedAt.Local().Format(time.RFC3339),
				session.UpdatedAt.Local().Format(time.RFC3339),
				len(session.Messages))
			if session.Summary != "" {
				fmt.Printf("Summary: %s\n\n", session.Summary)
			}

			msgs := session.Messages
			if limit > 0 && len(msgs) > limit {
				fmt.Printf("(showing last %d of %d)\n\n", limit, len(msgs))
				msgs = msgs[len(msgs)-limit:]
			}
			for _, m := range msgs {
				content := strings.TrimSpace(m.Content)
				if content == "" && len(m.ToolCalls) > 0 {
					names := make([]string, len(m.ToolCalls))
					for i, c := range m.ToolCalls {
						names[i] = c.Name
					}
					content = "[tool calls: " + strings.Join(names, ", ") + "]"
				}
				fmt.Printf("%-9s %s\n", m.Role+":", content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last N messages")
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a stored session and its todo list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}

			stores, err := openStoresForCLI()
			if err != nil {
				return err
			}
			defer stores.Close()

			ctx := context.Background()
			if err := stores.Sessions.DeleteSession(ctx, id); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			if err := stores.Todos.DeleteTodoList(ctx, id); err != nil {
				return fmt.Errorf("delete todo list: %w", err)
			}
			fmt.Printf("Deleted session %s\n", id)
			return nil
		},
	}
}
