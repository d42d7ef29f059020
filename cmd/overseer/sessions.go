package main

import (
	"context"
	"fmt"
	"os"
	osignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"overseer/internal/session"
	"overseer/internal/signal"
	"overseer/pkg/models"
)

var sessionSpawnName string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage spawned sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List spawned sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openLite()
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := db.ListSessions()
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}

		fmt.Printf("%-36s  %-12s  %-10s  %4s  %-6s  %s\n", "RUN ID", "NAME", "STATUS", "PROG", "AGE", "INSTRUCTION")
		for _, s := range sessions {
			statusColor(string(s.Status)).Printf("%-36s  %-12s  %-10s  %3d%%  %-6s  %s\n",
				s.RunID, truncate(s.Name, 12), s.Status, s.Progress,
				formatAge(s.CreatedAt), truncate(s.Instruction, 40))
		}
		return nil
	},
}

var sessionsSpawnCmd = &cobra.Command{
	Use:   "spawn <instruction>",
	Short: "Spawn a child session for an instruction",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instruction := strings.Join(args, " ")

		eng, err := newEngine("cli-session")
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := osignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		spawner := session.New(
			session.WithStore(eng.db),
			session.WithMaxActive(eng.cfg.Sessions.MaxActive),
			session.WithSessionTimeout(eng.cfg.Sessions.SessionTimeout),
		)

		exec := func(ctx context.Context, sess models.SpawnedSession) (*session.Outcome, error) {
			res := eng.controller.Run(ctx, sess.Instruction, nil, nil)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			tools := make([]string, 0, len(res.Calls))
			for _, call := range res.Calls {
				tools = append(tools, call.Capability)
			}
			return &session.Outcome{Result: res.Text, ToolsUsed: tools}, nil
		}

		sess, err := spawner.Spawn(ctx, session.Config{
			Name:        sessionSpawnName,
			Instruction: instruction,
		}, exec)
		if err != nil {
			return err
		}
		fmt.Printf("Session %s (%s) spawned\n", sess.Name, sess.RunID)

		go func() {
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if eng.signals.ShouldStop(sess.RunID) {
						spawner.Cancel(sess.RunID)
						return
					}
				}
			}
		}()

		final, err := spawner.AwaitCompletion(sess.RunID, eng.cfg.Sessions.SessionTimeout+time.Minute)
		if err != nil {
			return err
		}
		statusColor(string(final.Status)).Printf("Session %s %s\n", final.RunID, final.Status)
		if final.Result != "" {
			fmt.Println(final.Result)
		}
		if final.Error != "" {
			fmt.Fprintln(os.Stderr, final.Error)
		}
		return nil
	},
}

var sessionsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Signal a running session to stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openLite()
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := db.ListSessions()
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		found := false
		for _, s := range sessions {
			if s.RunID == args[0] {
				found = true
				if s.Status != models.SessionStatusPending && s.Status != models.SessionStatusRunning {
					return fmt.Errorf("session %s is already %s", s.RunID, s.Status)
				}
			}
		}
		if !found {
			return fmt.Errorf("session %s not found", args[0])
		}

		sig, err := signal.New(signalBaseDir(cfg))
		if err != nil {
			return fmt.Errorf("create signal manager: %w", err)
		}
		defer sig.Close()

		if err := sig.SendStop(args[0]); err != nil {
			return err
		}
		fmt.Printf("Stop signal sent to session %s\n", args[0])
		return nil
	},
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal sessions older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openLite()
		if err != nil {
			return err
		}
		defer db.Close()

		cutoff := time.Now().Add(-cfg.Queue.Retention)
		removed, err := db.PurgeTerminalSessions(cutoff)
		if err != nil {
			return fmt.Errorf("purge sessions: %w", err)
		}
		fmt.Printf("Removed %d sessions older than %s\n", removed, cfg.Queue.Retention)
		return nil
	},
}

func init() {
	sessionsSpawnCmd.Flags().StringVar(&sessionSpawnName, "name", "adhoc", "Short label for the session")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSpawnCmd)
	sessionsCmd.AddCommand(sessionsCancelCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)
}
