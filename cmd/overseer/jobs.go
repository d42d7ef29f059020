package main

import (
	"context"
	"fmt"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"overseer/internal/schedule"
	"overseer/internal/session"
	"overseer/pkg/models"
)

var (
	jobName        string
	jobCron        string
	jobInstruction string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled jobs",
	Long: `Manage cron-scheduled jobs.

Each job carries a five-field cron expression (minute hour day-of-month
month day-of-week) and an instruction. Due jobs spawn child sessions that
run the instruction through the orchestrator.`,
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a scheduled job",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, _, eng, err := openScheduler()
		if err != nil {
			return err
		}
		defer eng.Close()

		job, err := sc.CreateJob(jobName, jobCron, jobInstruction)
		if err != nil {
			return err
		}
		fmt.Printf("Job %s (%s) created\n", job.Name, job.ID)
		if job.NextRunAt != nil {
			fmt.Printf("Next run: %s\n", job.NextRunAt.Format(time.RFC3339))
		}
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openLite()
		if err != nil {
			return err
		}
		defer db.Close()

		jobs, err := db.ListJobs()
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs.")
			return nil
		}

		fmt.Printf("%-36s  %-16s  %-14s  %-8s  %4s  %s\n", "ID", "NAME", "CRON", "ENABLED", "RUNS", "NEXT RUN")
		for _, j := range jobs {
			next := "-"
			if j.NextRunAt != nil {
				next = j.NextRunAt.Format("2006-01-02 15:04")
			}
			fmt.Printf("%-36s  %-16s  %-14s  %-8t  %4d  %s\n",
				j.ID, truncate(j.Name, 16), j.CronExpression, j.Enabled, j.RunCount, next)
		}
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, _, eng, err := openScheduler()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := sc.DeleteJob(args[0]); err != nil {
			return err
		}
		fmt.Printf("Job %s deleted\n", args[0])
		return nil
	},
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <job-id>",
	Short: "Enable a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobEnabled(args[0], true)
	},
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <job-id>",
	Short: "Disable a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobEnabled(args[0], false)
	},
}

var jobsLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Load job definitions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, _, eng, err := openScheduler()
		if err != nil {
			return err
		}
		defer eng.Close()

		n, err := sc.LoadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d jobs from %s\n", n, args[0])
		return nil
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a job immediately, ignoring its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, spawner, eng, err := openScheduler()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := osignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		settled := make(chan models.SpawnedSession, 1)
		unsubscribe := spawner.SubscribeAll(func(ev session.Event) {
			if ev.Session.Status.Terminal() {
				select {
				case settled <- ev.Session:
				default:
				}
			}
		})
		defer unsubscribe()

		if err := sc.RunNow(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Job %s launched\n", args[0])

		select {
		case sess := <-settled:
			statusColor(string(sess.Status)).Printf("Session %s %s\n", sess.RunID, sess.Status)
			if sess.Result != "" {
				fmt.Println(sess.Result)
			}
			if sess.Error != "" {
				fmt.Fprintln(os.Stderr, sess.Error)
			}
		case <-ctx.Done():
		}
		return nil
	},
}

var jobsDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scheduler tick loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, _, eng, err := openScheduler()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := osignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Scheduler running (tick every %s), press Ctrl-C to stop\n", eng.cfg.Scheduler.TickInterval)
		sc.Run(ctx)
		return nil
	},
}

// openScheduler wires a scheduler whose due jobs spawn child sessions running
// the orchestrator, with jobs adopted from the state database.
func openScheduler() (*schedule.Scheduler, *session.Spawner, *engine, error) {
	eng, err := newEngine("cli-jobs")
	if err != nil {
		return nil, nil, nil, err
	}

	spawner := session.New(
		session.WithStore(eng.db),
		session.WithMaxActive(eng.cfg.Sessions.MaxActive),
		session.WithSessionTimeout(eng.cfg.Sessions.SessionTimeout),
	)

	factory := func(job models.ScheduledJob) session.Executor {
		return func(ctx context.Context, sess models.SpawnedSession) (*session.Outcome, error) {
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
	}

	sc := schedule.New(spawner, factory,
		schedule.WithStore(eng.db),
		schedule.WithTickInterval(eng.cfg.Scheduler.TickInterval),
	)

	stored, err := eng.db.ListJobs()
	if err != nil {
		eng.Close()
		return nil, nil, nil, fmt.Errorf("load jobs: %w", err)
	}
	sc.Adopt(stored)

	if eng.cfg.Scheduler.JobsFile != "" {
		if _, err := sc.LoadFile(eng.cfg.Scheduler.JobsFile); err != nil {
			eng.Close()
			return nil, nil, nil, fmt.Errorf("load jobs file: %w", err)
		}
	}

	return sc, spawner, eng, nil
}

func setJobEnabled(id string, enabled bool) error {
	sc, _, eng, err := openScheduler()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := sc.SetEnabled(id, enabled); err != nil {
		return err
	}
	if enabled {
		fmt.Printf("Job %s enabled\n", id)
	} else {
		fmt.Printf("Job %s disabled\n", id)
	}
	return nil
}

func init() {
	jobsCreateCmd.Flags().StringVar(&jobName, "name", "", "Job name")
	jobsCreateCmd.Flags().StringVar(&jobCron, "cron", "", "Five-field cron expression")
	jobsCreateCmd.Flags().StringVar(&jobInstruction, "instruction", "", "Instruction to run")
	jobsCreateCmd.MarkFlagRequired("cron")
	jobsCreateCmd.MarkFlagRequired("instruction")

	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)
	jobsCmd.AddCommand(jobsEnableCmd)
	jobsCmd.AddCommand(jobsDisableCmd)
	jobsCmd.AddCommand(jobsLoadCmd)
	jobsCmd.AddCommand(jobsRunCmd)
	jobsCmd.AddCommand(jobsDaemonCmd)
}
