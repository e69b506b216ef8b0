package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bondledger/internal/server"
	"github.com/alanyoungcy/bondledger/internal/server/handler"
	"github.com/alanyoungcy/bondledger/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// ServeMode runs the HTTP API and the WebSocket hub until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode exports committed receipts and snapshots to object storage on
// the configured interval.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archive == nil {
		return errors.New("app: archive mode requires s3.enabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Archive.Run(ctx)
	})
	return g.Wait()
}

// AllMode runs the API and, when enabled, the archiver in one process.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting all mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Archive.Enabled && deps.Archive != nil {
		g.Go(func() error {
			return deps.Archive.Run(ctx)
		})
	}
	return g.Wait()
}

// startHTTPServer registers the hub, the HTTP server and its graceful
// shutdown on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Height:    deps.Ledger.Height,
		Gauge:     deps.Metrics.WSClients,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Ledger.Height, deps.Checks, a.logger),
		Contracts: handler.NewContractHandler(deps.Ledger, a.logger),
		Bonds:     handler.NewBondHandler(deps.Bonds, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}
	if deps.Archive != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Archive, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimit:          a.cfg.Server.RateLimit,
		RateWindow:         a.cfg.Server.RateWindow.Duration,
		SignatureTolerance: a.cfg.Server.SignatureTolerance.Duration,
	}, handlers, server.Deps{
		Limiter:  deps.RateLimiter,
		Replay:   deps.LockManager,
		Observer: deps.Metrics,
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
