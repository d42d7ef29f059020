package main

import (
	"context"
	"fmt"
	"os"
	osignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"overseer/internal/api"
	"overseer/internal/react"
	"overseer/internal/taskqueue"
	"overseer/pkg/models"
)

var (
	runBackground    bool
	runMaxIterations int
)

var runCmd = &cobra.Command{
	Use:   "run <instruction>",
	Short: "Execute an instruction",
	Long: `Execute a natural-language instruction through the orchestrator.

The instruction is classified into steps, then worked through a think-act
loop that invokes capabilities via the validated router. Every capability
call is recorded in the signed audit log.

With --background the instruction runs as a checkpointed background task
that can be paused or cancelled from another terminal via 'overseer tasks'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runBackground, "background", false, "Run as a checkpointed background task")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Iteration budget for a background task (default from config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	instruction := strings.Join(args, " ")

	eng, err := newEngine("cli-run")
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := osignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runBackground {
		return runAsTask(ctx, eng, instruction)
	}

	res := eng.controller.Run(ctx, instruction, nil, nil)
	printRunResult(res)
	printUsage(eng.backend.Usage())
	return nil
}

// printUsage summarizes the tokens spent across the run, including the
// classification call.
func printUsage(u api.Usage) {
	if u.Calls == 0 {
		return
	}
	fmt.Printf("Tokens: %d in, %d out across %d model calls\n",
		u.InputTokens, u.OutputTokens, u.Calls)
}

// runAsTask executes the instruction through the task queue so it can be
// paused or cancelled via signal files from another process.
func runAsTask(ctx context.Context, eng *engine, instruction string) error {
	q := taskqueue.New(
		taskqueue.WithStore(eng.db),
		taskqueue.WithMaxActive(eng.cfg.Queue.MaxActive),
		taskqueue.WithTaskTimeout(eng.cfg.Queue.TaskTimeout),
		taskqueue.WithCheckpointEvery(eng.cfg.Queue.CheckpointEvery),
		taskqueue.WithRetention(eng.cfg.Queue.Retention),
	)

	maxIterations := runMaxIterations
	if maxIterations <= 0 {
		maxIterations = eng.cfg.Queue.MaxIterations
	}
	task, err := q.Enqueue(instruction, maxIterations)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s queued\n", task.ID)

	done := make(chan struct{})
	exec := func(ctx context.Context, t models.BackgroundTask) (string, error) {
		defer close(done)
		if err := q.UpdateProgress(t.ID, 5, "classifying intent"); err != nil {
			return "", err
		}
		res := eng.controller.Run(ctx, t.Instruction, nil, nil)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		q.UpdateProgress(t.ID, 95, "finalizing")
		return res.Text, nil
	}

	if err := q.RunInBackground(ctx, task.ID, exec); err != nil {
		return err
	}
	go watchSignals(ctx, eng, q, task.ID)

	select {
	case <-done:
	case <-ctx.Done():
		q.CancelTask(task.ID)
		<-done
	}

	final, ok := q.Get(task.ID)
	if !ok {
		return fmt.Errorf("task %s disappeared", task.ID)
	}
	statusColor(string(final.Status)).Printf("Task %s %s\n", final.ID, final.Status)
	if final.Result != "" {
		fmt.Println(final.Result)
	}
	if final.Error != "" {
		fmt.Fprintln(os.Stderr, final.Error)
	}
	printUsage(eng.backend.Usage())
	eng.signals.Clear(task.ID)
	return nil
}

// watchSignals polls the signal directory and applies stop/pause markers to
// the running task.
func watchSignals(ctx context.Context, eng *engine, q *taskqueue.Queue, taskID string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if eng.signals.ShouldStop(taskID) {
				q.CancelTask(taskID)
				return
			}
			if eng.signals.ShouldPause(taskID) {
				q.PauseTask(taskID)
			} else if t, ok := q.Get(taskID); ok && t.Status == models.TaskStatusPaused {
				q.ResumeTask(taskID)
			}
		}
	}
}

func printRunResult(res *react.RunResult) {
	if res.Text != "" {
		fmt.Println(res.Text)
	}

	if len(res.Calls) > 0 {
		fmt.Println()
		fmt.Printf("Capabilities used (%d):\n", len(res.Calls))
		for _, call := range res.Calls {
			marker := color.GreenString("✓")
			if call.Err != nil || (call.Result != nil && !call.Result.Success) {
				marker = color.RedString("✗")
			}
			fmt.Printf("  %s %s\n", marker, call.Capability)
		}
	}

	if res.Complete {
		color.Green("All steps completed (%d iterations)", res.Iterations)
	} else {
		color.Yellow("Run ended incomplete after %d iterations and %d continuation attempts",
			res.Iterations, res.ContinuationAttempts)
	}
}
