package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbhunter/dmarketbot/internal/arbitrage"
	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/engine"
	"github.com/arbhunter/dmarketbot/internal/server"
	"github.com/arbhunter/dmarketbot/internal/server/handler"
	"github.com/arbhunter/dmarketbot/internal/server/ws"
)

// MonitorMode runs the polling loop in read-only fashion: detected changes
// are logged, pushed to the notifier, and served over the API. No orders are
// placed and nothing is persisted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	a.wireChangeAlerts(deps)
	a.startPoller(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// ArbitrageMode runs the polling loop with the opportunity detector wired as
// a change callback. Detected opportunities are persisted and alerted.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting arbitrage mode")

	if deps.Opportunities == nil {
		return fmt.Errorf("arbitrage mode: opportunity store not wired")
	}

	g, ctx := errgroup.WithContext(ctx)

	a.wireChangeAlerts(deps)
	a.wireDetector(deps)
	a.startPoller(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// ScrapeMode runs wide parallel scans on a fixed schedule and persists every
// detected change to the price history store. It is the bulk-collection mode;
// the adaptive loop and notifier stay out of the way.
func (a *App) ScrapeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scrape mode")

	if deps.PriceHistory == nil {
		return fmt.Errorf("scrape mode: price history store not wired")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.scrapeLoop(ctx, deps)
	})
	a.startArchiveLoop(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// ServerMode runs only the HTTP and WebSocket API. The polling loop is not
// started; the force-poll endpoint still works for one-shot cycles.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: the adaptive polling loop, opportunity
// detection, change alerts, archival, and the API server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.wireChangeAlerts(deps)
	if a.cfg.Arbitrage.Enabled && deps.Opportunities != nil {
		a.wireDetector(deps)
	}
	a.startPoller(ctx, g, deps)
	a.startPersistence(ctx, deps)
	a.startArchiveLoop(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// wireChangeAlerts registers a poller callback that forwards significant
// changes to the notifier. Delivery failures are logged, never propagated.
func (a *App) wireChangeAlerts(deps *Dependencies) {
	deps.Poller.OnChange(func(ctx context.Context, change domain.PriceChange) {
		if err := deps.Notifier.NotifyChange(ctx, change); err != nil {
			a.logger.WarnContext(ctx, "change alert failed",
				slog.String("entity", change.EntityID),
				slog.String("error", err.Error()))
		}
	})
}

// wireDetector registers the opportunity detector as a poller callback.
func (a *App) wireDetector(deps *Dependencies) {
	det := arbitrage.NewDetector(arbitrage.Config{
		FeePercent:   a.cfg.Arbitrage.FeePercent,
		MinProfitUSD: decimalFromFloat(a.cfg.Arbitrage.MinProfitUSD),
		MinProfitPct: decimalFromFloat(a.cfg.Arbitrage.MinProfitPct),
	}, deps.Opportunities, deps.Notifier, a.logger)
	deps.Poller.OnChange(det.HandleChange)
}

// startPersistence registers a poller callback that records every surfaced
// change in the price history store, when one is wired.
func (a *App) startPersistence(ctx context.Context, deps *Dependencies) {
	if deps.PriceHistory == nil {
		return
	}
	deps.Poller.OnChange(func(ctx context.Context, change domain.PriceChange) {
		if err := deps.PriceHistory.InsertBatch(ctx, []domain.PriceChange{change}); err != nil {
			a.logger.WarnContext(ctx, "price history insert failed",
				slog.String("entity", change.EntityID),
				slog.String("error", err.Error()))
		}
	})
}

// startPoller adds the polling loop to the errgroup. The loop is stopped
// when the group context is cancelled.
func (a *App) startPoller(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		if err := deps.Poller.Start(ctx); err != nil {
			return fmt.Errorf("poller start: %w", err)
		}
		<-ctx.Done()
		deps.Poller.Stop()
		return ctx.Err()
	})
}

// scrapeLoop runs wide scans across all configured games on the base
// interval and bulk-inserts every detected change.
func (a *App) scrapeLoop(ctx context.Context, deps *Dependencies) error {
	scopes := engine.Scopes(a.cfg.Polling.Games, nil)
	interval := a.cfg.Polling.BaseInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}

	runOnce := func() {
		results := deps.Scanner.ScanMany(ctx, scopes)
		now := time.Now().UTC()

		var changes []domain.PriceChange
		for _, res := range results {
			if res.Err != nil {
				continue
			}
			for _, item := range res.Items {
				key, ok := engine.EntityKey(item)
				if !ok {
					continue
				}
				change := deps.Tracker.Observe(key, item, now)
				if change.Kind == domain.ChangeNone {
					continue
				}
				changes = append(changes, change)
			}
		}
		if len(changes) == 0 {
			return
		}
		if err := deps.PriceHistory.InsertBatch(ctx, changes); err != nil {
			a.logger.ErrorContext(ctx, "scrape insert failed",
				slog.Int("changes", len(changes)),
				slog.String("error", err.Error()))
			return
		}
		a.logger.InfoContext(ctx, "scrape cycle persisted",
			slog.Int("scopes", len(scopes)),
			slog.Int("changes", len(changes)))
	}

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runOnce()
		}
	}
}

// startArchiveLoop adds the cold-storage archival loop to the errgroup when
// archiving is enabled. Each cycle archives rows older than the retention
// window to S3 and deletes them only after the upload succeeded.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.archiveOnce(ctx, deps, time.Now().UTC().Add(-retention))
			}
		}
	})
}

// archiveOnce runs one archive-then-delete pass for both archived kinds.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, cutoff time.Time) {
	if n, err := deps.Archiver.ArchivePriceHistory(ctx, cutoff); err != nil {
		a.logger.ErrorContext(ctx, "price history archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		deleted, err := deps.PriceHistory.DeleteBefore(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "price history prune failed", slog.String("error", err.Error()))
		}
		a.logger.InfoContext(ctx, "price history archived",
			slog.Int64("archived", n),
			slog.Int64("deleted", deleted))
	}

	if deps.Opportunities == nil {
		return
	}
	if n, err := deps.Archiver.ArchiveOpportunities(ctx, cutoff); err != nil {
		a.logger.ErrorContext(ctx, "opportunity archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		deleted, err := deps.Opportunities.DeleteBefore(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "opportunity prune failed", slog.String("error", err.Error()))
		}
		a.logger.InfoContext(ctx, "opportunities archived",
			slog.Int64("archived", n),
			slog.Int64("deleted", deleted))
	}
}

// startHTTPServer adds the API server (and WebSocket hub when the signal bus
// is wired) to the errgroup, with graceful shutdown on context cancel.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(deps.Poller, deps.DMarket, a.cfg.Mode, startedAt, a.logger),
		Poll:   handler.NewPollHandler(deps.Poller, a.cfg.Polling.Games, a.logger),
	}
	if deps.Tracker != nil {
		handlers.Changes = handler.NewChangeHandler(deps.Tracker, a.logger)
	}
	if deps.Opportunities != nil {
		handlers.Opportunities = handler.NewOpportunityHandler(deps.Opportunities, a.logger)
	}
	if deps.Signer != nil {
		handlers.Account = handler.NewAccountHandler(deps.DMarket, deps.Targets, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

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
