// Package app provides the top-level application lifecycle of the bond
// ledger. It wires stores, caches, blob storage, the ledger runtime,
// services and notifications, bootstraps the protocol contracts, and starts
// the goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bondledger/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, bootstraps the
// protocol contracts when configured, selects the operating mode and blocks
// until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.Log.Level),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if a.cfg.Ledger.Bootstrap {
		admin, err := resolveAdmin(a.cfg.Ledger)
		if err != nil {
			return fmt.Errorf("app: resolve admin: %w", err)
		}
		addrs, err := deps.Ledger.Bootstrap(ctx, admin)
		if err != nil {
			return fmt.Errorf("app: bootstrap: %w", err)
		}
		a.logger.InfoContext(ctx, "protocol contracts ready",
			slog.String("admin", admin.Hex()),
			slog.String("escrow", addrs.Escrow.Hex()),
			slog.String("orchestrator", addrs.Orchestrator.Hex()),
			slog.String("factory", addrs.Factory.Hex()),
			slog.Uint64("height", deps.Ledger.Height()),
		)
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "serve":
		return a.ServeMode(ctx, deps)
	case "archive":
		return a.ArchiveMode(ctx, deps)
	case "all":
		return a.AllMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
