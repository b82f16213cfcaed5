package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftgate/solverbot/internal/notify"
	"github.com/driftgate/solverbot/internal/server"
	"github.com/driftgate/solverbot/internal/server/handler"
	"github.com/driftgate/solverbot/internal/solver"
)

// SolveMode runs the full order pipeline: detect, price, gate, fulfill,
// attest, settle. The price feed and operator API run alongside when
// configured.
func (a *App) SolveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting solve mode")
	return a.runCore(ctx, deps, false)
}

// MonitorMode runs detection and pricing only. Orders are watched and quoted
// but never paid; useful for dry runs against production ledgers.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runCore(ctx, deps, false)
}

// FullMode runs the solve pipeline plus cold-storage archival of finished
// orders.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runCore(ctx, deps, true)
}

// runCore starts the goroutines shared by every mode: the engine, the
// optional WS price feed, and the operator API. withArchiver additionally
// starts the archival loop when one was wired.
func (a *App) runCore(ctx context.Context, deps *Dependencies, withArchiver bool) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})

	if deps.Feed != nil {
		g.Go(func() error {
			return deps.Feed.Run(ctx)
		})
	}

	if withArchiver && deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	_ = deps.Notifier.Notify(ctx, notify.EventEngineStarted, "Solver started",
		"Mode: "+a.cfg.Mode)

	return g.Wait()
}

// startHTTPServer adds the operator API goroutines to the given errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(
		server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(),
			Status: handler.NewStatusHandler(deps.Orders, deps.Cursors, solver.CursorName, a.cfg.Mode, a.logger),
			Orders: handler.NewOrderHandler(deps.Orders, deps.Fulfillments, deps.Engine, a.logger),
		},
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
