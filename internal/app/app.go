// Package app wires the scan pipeline together from configuration and owns
// the process lifecycle: the engine loop, the control server, the live quote
// feed, and report archival all run under one errgroup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddslab/predarb/internal/config"
)

// archiveInterval is how often report files are re-uploaded when S3
// archival is enabled.
const archiveInterval = time.Hour

// App is the root application object. It owns the configuration, logger,
// and the cleanup chain run on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the goroutines for the configured
// mode, and blocks until the context is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("provider_spec", a.cfg.Provider.Spec),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	// Scan loop. A bounded iteration count runs cycles back to back and
	// exits; otherwise the engine ticks until cancelled.
	g.Go(func() error {
		if deps.MaxIters > 0 {
			return a.runBounded(ctx, deps)
		}
		return deps.Engine.Run(ctx, deps.Interval)
	})

	// Control server, when enabled.
	if a.cfg.Engine.ControlAddr != "" {
		a.startControlServer(ctx, g, deps.Engine)
	}

	// Live quote feed.
	if deps.Feed != nil {
		g.Go(func() error {
			return a.runQuoteFeed(ctx, deps)
		})
	}

	// Periodic report archival.
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// runBounded executes exactly MaxIters cycles, pacing them on the scan
// interval, then returns.
func (a *App) runBounded(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(deps.Interval)
	defer ticker.Stop()

	for i := 0; i < deps.MaxIters; i++ {
		if _, err := deps.Engine.RunCycle(ctx); err != nil {
			a.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
		}
		if i == deps.MaxIters-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	a.logger.InfoContext(ctx, "bounded run complete", slog.Int("iterations", deps.MaxIters))
	return nil
}

// runQuoteFeed connects the websocket, subscribes to the outcomes of the
// current market snapshot, and streams quotes into the cache until the
// context is cancelled. The initial fetch drives the subscription set.
func (a *App) runQuoteFeed(ctx context.Context, deps *Dependencies) error {
	deps.Feed.FeedCache(ctx, deps.QuoteCache)

	if err := deps.Feed.Connect(ctx); err != nil {
		// The scanner degrades to REST-only pricing without the feed.
		a.logger.WarnContext(ctx, "quote feed unavailable", slog.String("error", err.Error()))
		return nil
	}

	markets, err := deps.Provider.FetchMarkets(ctx)
	if err == nil {
		var assetIDs []string
		for _, m := range markets {
			if m.Exchange != "polymarket" {
				continue
			}
			for _, o := range m.Outcomes {
				assetIDs = append(assetIDs, o.ID)
			}
		}
		if len(assetIDs) > 0 {
			if err := deps.Feed.Subscribe(assetIDs); err != nil {
				a.logger.WarnContext(ctx, "quote feed subscribe failed", slog.String("error", err.Error()))
			}
		}
	}

	<-ctx.Done()
	return deps.Feed.Close()
}

// runArchiveLoop periodically uploads the report files and ships trade
// history for months that have fully elapsed.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := time.Now().UTC()
		if n, err := deps.Archiver.ArchiveReports(ctx, deps.ReportDir, now); err != nil {
			a.logger.WarnContext(ctx, "report archive failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.InfoContext(ctx, "reports archived", slog.Int("files", n))
		}

		if deps.ArchiveTrades {
			monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
			if n, err := deps.Archiver.ArchiveTrades(ctx, monthStart); err != nil {
				a.logger.WarnContext(ctx, "trade archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "trades archived", slog.Int64("trades", n))
			}
		}
	}
}
