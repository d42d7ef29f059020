// Package config loads and manages overseer configuration.
//
// Configuration is layered: built-in defaults, then the user config file
// (~/.config/overseer/config.yaml), then a project-local .overseer.yaml
// found in the current directory or a parent, then environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full overseer configuration.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Router    RouterConfig    `mapstructure:"router"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// AnthropicConfig holds model backend settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// QueueConfig holds background task queue settings.
type QueueConfig struct {
	MaxActive       int           `mapstructure:"max_active"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
	Retention       time.Duration `mapstructure:"retention"`
	MaxIterations   int           `mapstructure:"max_iterations"`
}

// SessionsConfig holds spawned session settings.
type SessionsConfig struct {
	MaxActive      int           `mapstructure:"max_active"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

// SchedulerConfig holds scheduled job settings.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	JobsFile     string        `mapstructure:"jobs_file"`
}

// RouterConfig holds capability routing settings.
type RouterConfig struct {
	AllowedPathPrefixes []string      `mapstructure:"allowed_path_prefixes"`
	RateLimit           int           `mapstructure:"rate_limit"`
	RateWindow          time.Duration `mapstructure:"rate_window"`
}

// StorageConfig holds persistence paths.
type StorageConfig struct {
	DBPath      string `mapstructure:"db_path"`
	AuditDBPath string `mapstructure:"audit_db_path"`
	SignalDir   string `mapstructure:"signal_dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.overseer.yaml in current directory or parent)
// 3. User config (~/.config/overseer/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.model", "OVERSEER_MODEL")
	v.BindEnv("anthropic.use_bedrock", "OVERSEER_USE_BEDROCK")
	v.BindEnv("storage.db_path", "OVERSEER_DB_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("queue.max_active", cfg.Queue.MaxActive)
	v.Set("queue.task_timeout", cfg.Queue.TaskTimeout.String())
	v.Set("queue.checkpoint_every", cfg.Queue.CheckpointEvery)
	v.Set("queue.retention", cfg.Queue.Retention.String())
	v.Set("queue.max_iterations", cfg.Queue.MaxIterations)
	v.Set("sessions.max_active", cfg.Sessions.MaxActive)
	v.Set("sessions.session_timeout", cfg.Sessions.SessionTimeout.String())
	v.Set("scheduler.tick_interval", cfg.Scheduler.TickInterval.String())
	v.Set("scheduler.jobs_file", cfg.Scheduler.JobsFile)
	v.Set("router.allowed_path_prefixes", cfg.Router.AllowedPathPrefixes)
	v.Set("router.rate_limit", cfg.Router.RateLimit)
	v.Set("router.rate_window", cfg.Router.RateWindow.String())
	v.Set("storage.db_path", cfg.Storage.DBPath)
	v.Set("storage.audit_db_path", cfg.Storage.AuditDBPath)
	v.Set("storage.signal_dir", cfg.Storage.SignalDir)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("queue.max_active", 3)
	v.SetDefault("queue.task_timeout", "30m")
	v.SetDefault("queue.checkpoint_every", 5)
	v.SetDefault("queue.retention", "24h")
	v.SetDefault("queue.max_iterations", 50)

	v.SetDefault("sessions.max_active", 3)
	v.SetDefault("sessions.session_timeout", "10m")

	v.SetDefault("scheduler.tick_interval", "30s")
	v.SetDefault("scheduler.jobs_file", "")

	v.SetDefault("router.allowed_path_prefixes", []string{})
	v.SetDefault("router.rate_limit", 30)
	v.SetDefault("router.rate_window", "1m")

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.audit_db_path", "")
	v.SetDefault("storage.signal_dir", "")
}

// getUserConfigDir returns the XDG config directory for overseer.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "overseer")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "overseer")
	}
	return filepath.Join(home, ".config", "overseer")
}

// findProjectConfig searches for .overseer.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".overseer.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{},
		Queue: QueueConfig{
			MaxActive:       3,
			TaskTimeout:     30 * time.Minute,
			CheckpointEvery: 5,
			Retention:       24 * time.Hour,
			MaxIterations:   50,
		},
		Sessions: SessionsConfig{
			MaxActive:      3,
			SessionTimeout: 10 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			TickInterval: 30 * time.Second,
		},
		Router: RouterConfig{
			RateLimit:  30,
			RateWindow: time.Minute,
		},
	}
}
