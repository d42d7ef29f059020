package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "LLM task orchestrator",
	Long: `Overseer routes natural-language instructions through an intent
classifier and a ReAct loop, executing capabilities through a validated
router with caching, rate limits, and a signed audit trail.

Instructions can run in the foreground, as checkpointed background tasks,
as capacity-capped child sessions, or on a cron schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
