package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"overseer/internal/config"
	"overseer/internal/signal"
	"overseer/internal/state"
	"overseer/pkg/models"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage background tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List background tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openLite()
		if err != nil {
			return err
		}
		defer db.Close()

		tasks, err := db.ListTasks()
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		fmt.Printf("%-36s  %-10s  %4s  %-6s  %s\n", "ID", "STATUS", "PROG", "AGE", "INSTRUCTION")
		for _, t := range tasks {
			statusColor(string(t.Status)).Printf("%-36s  %-10s  %3d%%  %-6s  %s\n",
				t.ID, t.Status, t.Progress, formatAge(t.CreatedAt), truncate(t.Instruction, 50))
		}
		return nil
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openLite()
		if err != nil {
			return err
		}
		defer db.Close()

		t, err := db.GetTask(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:          %s\n", t.ID)
		fmt.Printf("Status:      %s\n", t.Status)
		fmt.Printf("Progress:    %d%%\n", t.Progress)
		fmt.Printf("Instruction: %s\n", t.Instruction)
		if t.CurrentStep != "" {
			fmt.Printf("Step:        %s\n", t.CurrentStep)
		}
		fmt.Printf("Created:     %s\n", t.CreatedAt.Format(time.RFC3339))
		if t.CompletedAt != nil {
			fmt.Printf("Completed:   %s\n", t.CompletedAt.Format(time.RFC3339))
		}
		if t.Checkpoint != nil {
			fmt.Printf("Checkpoint:  iteration %d, saved %s\n",
				t.Checkpoint.Iteration, t.Checkpoint.SavedAt.Format(time.RFC3339))
		}
		if t.Result != "" {
			fmt.Printf("Result:\n%s\n", t.Result)
		}
		if t.Error != "" {
			fmt.Printf("Error:       %s\n", t.Error)
		}
		return nil
	},
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Signal a running task to stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendTaskSignal(args[0], "stop")
	},
}

var tasksPauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Signal a running task to pause",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendTaskSignal(args[0], "pause")
	},
}

var tasksResumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Clear a task's stop/pause signals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendTaskSignal(args[0], "resume")
	},
}

var tasksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal tasks older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openLite()
		if err != nil {
			return err
		}
		defer db.Close()

		cutoff := time.Now().Add(-cfg.Queue.Retention)
		removed, err := db.PurgeTerminalTasks(cutoff)
		if err != nil {
			return fmt.Errorf("purge tasks: %w", err)
		}
		fmt.Printf("Removed %d tasks older than %s\n", removed, cfg.Queue.Retention)
		return nil
	},
}

// openLite loads config and opens the state database without wiring a model
// backend. Used by commands that only inspect or signal.
func openLite() (*config.Config, *state.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := openState(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

// sendTaskSignal writes (or clears) a signal marker for a task after checking
// that the task exists and is not already terminal.
func sendTaskSignal(taskID, kind string) error {
	cfg, db, err := openLite()
	if err != nil {
		return err
	}
	defer db.Close()

	t, err := db.GetTask(taskID)
	if err != nil {
		return err
	}
	switch t.Status {
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		return fmt.Errorf("task %s is already %s", taskID, t.Status)
	}

	sig, err := signal.New(signalBaseDir(cfg))
	if err != nil {
		return fmt.Errorf("create signal manager: %w", err)
	}
	defer sig.Close()

	switch kind {
	case "stop":
		if err := sig.SendStop(taskID); err != nil {
			return err
		}
		fmt.Printf("Stop signal sent to task %s\n", taskID)
	case "pause":
		if err := sig.SendPause(taskID); err != nil {
			return err
		}
		fmt.Printf("Pause signal sent to task %s\n", taskID)
	case "resume":
		sig.Clear(taskID)
		fmt.Printf("Signals cleared for task %s\n", taskID)
	}
	return nil
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
	tasksCmd.AddCommand(tasksPauseCmd)
	tasksCmd.AddCommand(tasksResumeCmd)
	tasksCmd.AddCommand(tasksCleanupCmd)
}
