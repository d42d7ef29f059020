package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"overseer/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify overseer configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/overseer/config.yaml
Project-specific overrides can be placed in .overseer.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			return displayConfigKey(cfg, args[0])
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", orUnset(cfg.Anthropic.Model))
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("anthropic.aws_region: %s\n", orUnset(cfg.Anthropic.AWSRegion))
	fmt.Printf("queue.max_active: %d\n", cfg.Queue.MaxActive)
	fmt.Printf("queue.task_timeout: %s\n", cfg.Queue.TaskTimeout)
	fmt.Printf("queue.checkpoint_every: %d\n", cfg.Queue.CheckpointEvery)
	fmt.Printf("queue.retention: %s\n", cfg.Queue.Retention)
	fmt.Printf("queue.max_iterations: %d\n", cfg.Queue.MaxIterations)
	fmt.Printf("sessions.max_active: %d\n", cfg.Sessions.MaxActive)
	fmt.Printf("sessions.session_timeout: %s\n", cfg.Sessions.SessionTimeout)
	fmt.Printf("scheduler.tick_interval: %s\n", cfg.Scheduler.TickInterval)
	fmt.Printf("scheduler.jobs_file: %s\n", orUnset(cfg.Scheduler.JobsFile))
	fmt.Printf("router.allowed_path_prefixes: %v\n", cfg.Router.AllowedPathPrefixes)
	fmt.Printf("router.rate_limit: %d\n", cfg.Router.RateLimit)
	fmt.Printf("router.rate_window: %s\n", cfg.Router.RateWindow)
	fmt.Printf("storage.db_path: %s\n", dbPath(cfg))
	fmt.Printf("storage.audit_db_path: %s\n", auditDBPath(cfg))
	fmt.Printf("storage.signal_dir: %s\n", signalBaseDir(cfg))
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) error {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch key {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "queue.max_active":
		return strconv.Itoa(cfg.Queue.MaxActive), nil
	case "queue.task_timeout":
		return cfg.Queue.TaskTimeout.String(), nil
	case "queue.checkpoint_every":
		return strconv.Itoa(cfg.Queue.CheckpointEvery), nil
	case "queue.retention":
		return cfg.Queue.Retention.String(), nil
	case "queue.max_iterations":
		return strconv.Itoa(cfg.Queue.MaxIterations), nil
	case "sessions.max_active":
		return strconv.Itoa(cfg.Sessions.MaxActive), nil
	case "sessions.session_timeout":
		return cfg.Sessions.SessionTimeout.String(), nil
	case "scheduler.tick_interval":
		return cfg.Scheduler.TickInterval.String(), nil
	case "scheduler.jobs_file":
		return cfg.Scheduler.JobsFile, nil
	case "router.rate_limit":
		return strconv.Itoa(cfg.Router.RateLimit), nil
	case "router.rate_window":
		return cfg.Router.RateWindow.String(), nil
	case "storage.db_path":
		return dbPath(cfg), nil
	case "storage.audit_db_path":
		return auditDBPath(cfg), nil
	case "storage.signal_dir":
		return signalBaseDir(cfg), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue updates a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %q", key, value)
		}
		cfg.Anthropic.UseBedrock = b
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "queue.max_active":
		return setIntValue(&cfg.Queue.MaxActive, key, value)
	case "queue.task_timeout":
		return setDurationValue(&cfg.Queue.TaskTimeout, key, value)
	case "queue.checkpoint_every":
		return setIntValue(&cfg.Queue.CheckpointEvery, key, value)
	case "queue.retention":
		return setDurationValue(&cfg.Queue.Retention, key, value)
	case "queue.max_iterations":
		return setIntValue(&cfg.Queue.MaxIterations, key, value)
	case "sessions.max_active":
		return setIntValue(&cfg.Sessions.MaxActive, key, value)
	case "sessions.session_timeout":
		return setDurationValue(&cfg.Sessions.SessionTimeout, key, value)
	case "scheduler.tick_interval":
		return setDurationValue(&cfg.Scheduler.TickInterval, key, value)
	case "scheduler.jobs_file":
		cfg.Scheduler.JobsFile = value
	case "router.rate_limit":
		return setIntValue(&cfg.Router.RateLimit, key, value)
	case "router.rate_window":
		return setDurationValue(&cfg.Router.RateWindow, key, value)
	case "storage.db_path":
		cfg.Storage.DBPath = value
	case "storage.audit_db_path":
		cfg.Storage.AuditDBPath = value
	case "storage.signal_dir":
		cfg.Storage.SignalDir = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func setIntValue(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid positive integer for %s: %q", key, value)
	}
	*dst = n
	return nil
}

func setDurationValue(dst *time.Duration, key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid duration for %s: %q", key, value)
	}
	*dst = d
	return nil
}
