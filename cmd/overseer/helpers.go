package main

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"

	"overseer/internal/api"
	"overseer/internal/audit"
	"overseer/internal/capability"
	"overseer/internal/config"
	"overseer/internal/react"
	"overseer/internal/router"
	"overseer/internal/signal"
	"overseer/internal/state"
)

// dbPath resolves the state database path from config or the XDG default.
func dbPath(cfg *config.Config) string {
	if cfg.Storage.DBPath != "" {
		return cfg.Storage.DBPath
	}
	return state.DefaultDBPath()
}

// auditDBPath resolves the audit chain store path; it defaults to a sibling
// of the state database.
func auditDBPath(cfg *config.Config) string {
	if cfg.Storage.AuditDBPath != "" {
		return cfg.Storage.AuditDBPath
	}
	return filepath.Join(filepath.Dir(dbPath(cfg)), "audit.db")
}

// signalBaseDir resolves the directory holding stop/pause signal files.
func signalBaseDir(cfg *config.Config) string {
	if cfg.Storage.SignalDir != "" {
		return cfg.Storage.SignalDir
	}
	return filepath.Dir(dbPath(cfg))
}

// openState opens and migrates the state database.
func openState(cfg *config.Config) (*state.DB, error) {
	db, err := state.Open(dbPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return db, nil
}

// buildBackend creates the model backend from configuration.
func buildBackend(cfg *config.Config) (*api.AnthropicBackend, error) {
	apiKey := ""
	if !cfg.Anthropic.UseBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, err
		}
		apiKey = key
	}

	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	if client.IsBedrock() {
		log.Printf("[cli] routing through AWS Bedrock as %s", client.Model())
	}
	return api.NewAnthropicBackend(client), nil
}

// engine bundles the wired orchestration components for one CLI invocation.
type engine struct {
	cfg        *config.Config
	db         *state.DB
	registry   *capability.Registry
	router     *router.Router
	controller *react.Controller
	backend    *api.AnthropicBackend
	signer     *audit.ChainSigner
	signals    *signal.Manager
}

// newEngine wires config, state, signals, audit, router, and the ReAct
// controller for commands that execute instructions.
func newEngine(sessionID string) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := openState(cfg)
	if err != nil {
		return nil, err
	}

	// Anything still marked running belongs to a previous process.
	if n, err := db.MarkInterrupted(); err != nil {
		log.Printf("[cli] mark interrupted work: %v", err)
	} else if n > 0 {
		log.Printf("[cli] marked %d interrupted tasks/sessions failed", n)
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	signer, err := audit.NewChainSigner(auditDBPath(cfg), sessionID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	signals, err := signal.New(signalBaseDir(cfg))
	if err != nil {
		db.Close()
		signer.Close()
		return nil, fmt.Errorf("create signal manager: %w", err)
	}

	registry := capability.NewRegistry()
	if err := registerBuiltins(registry); err != nil {
		db.Close()
		signer.Close()
		signals.Close()
		return nil, err
	}

	rt := router.New(registry,
		router.WithAllowedPathPrefixes(cfg.Router.AllowedPathPrefixes),
		router.WithResourceManager(router.NewWindowLimiter(cfg.Router.RateLimit, cfg.Router.RateWindow)),
		router.WithAuditHook(audit.RouterHook(signer)),
	)

	return &engine{
		cfg:        cfg,
		db:         db,
		registry:   registry,
		router:     rt,
		controller: react.New(backend, rt, registry, react.WithCapabilitySpecs(builtinSpecs())),
		backend:    backend,
		signer:     signer,
		signals:    signals,
	}, nil
}

// Close releases the engine's resources.
func (e *engine) Close() {
	e.signals.Close()
	e.signer.Close()
	e.db.Close()
}

// statusColor maps a lifecycle status string to a display color.
func statusColor(status string) *color.Color {
	switch status {
	case "completed":
		return color.New(color.FgGreen)
	case "failed", "cancelled":
		return color.New(color.FgRed)
	case "running":
		return color.New(color.FgCyan)
	case "paused":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

// formatAge renders a duration since t in a compact form.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// truncate shortens s to at most n runes with an ellipsis.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
