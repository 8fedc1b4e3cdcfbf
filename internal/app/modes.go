package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/trailstop/internal/config"
	"github.com/alanyoungcy/trailstop/internal/costbasis"
	"github.com/alanyoungcy/trailstop/internal/server"
	"github.com/alanyoungcy/trailstop/internal/server/handler"
	"github.com/alanyoungcy/trailstop/internal/server/ws"
	"github.com/alanyoungcy/trailstop/internal/service"
	"github.com/alanyoungcy/trailstop/internal/trailing"
)

// reconcilerLockKey names the Redis lock that keeps a single reconciler per
// account.
const reconcilerLockKey = "reconciler"

// ReconcileMode runs the reconciliation loop and, when enabled, the HTTP API.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting reconcile mode",
		slog.String("venue", a.cfg.Venue.Kind),
	)

	rec, err := a.buildReconciler(deps)
	if err != nil {
		return fmt.Errorf("reconcile mode: %w", err)
	}

	a.lifecycleAlert(ctx, deps, "trailstop started",
		fmt.Sprintf("reconciling every %s on %s", a.cfg.Reconcile.Interval.Duration, a.cfg.Venue.Kind))
	defer a.lifecycleAlert(ctx, deps, "trailstop stopped", "reconciliation loop exited")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		handlers := a.baseHandlers(deps, rec)
		handlers.Stops = handler.NewStopsHandler(rec)
		if deps.Paper != nil {
			handlers.Paper = handler.NewPaperHandler(deps.Paper, a.logger)
		}
		a.startHTTPServer(ctx, g, deps, handlers)
	}

	return g.Wait()
}

// lifecycleAlert tells every notification channel about a process state
// change, bypassing the event filter.
func (a *App) lifecycleAlert(ctx context.Context, deps *Dependencies, title, message string) {
	if !deps.Notifier.Enabled() {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := deps.Notifier.NotifyAll(nctx, title, message); err != nil {
		a.logger.WarnContext(nctx, "app: lifecycle alert failed",
			slog.String("error", err.Error()),
		)
	}
}

// APIMode serves trades, holdings and health without reconciling. The stop
// ledger lives in the reconciling process, so its routes are absent here.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.baseHandlers(deps, nil))
	return g.Wait()
}

// ArchiveMode copies trades and moves audit rows older than the retention
// window to object storage, then returns. Trade rows stay in Postgres because
// holdings replay them.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "app: starting archive mode",
		slog.Time("before", before),
	)

	g, gctx := errgroup.WithContext(ctx)
	var trades, audits int64
	g.Go(func() error {
		n, err := deps.Archiver.ArchiveTrades(gctx, before)
		if err != nil {
			return fmt.Errorf("archive mode: trades: %w", err)
		}
		trades = n
		return nil
	})
	g.Go(func() error {
		n, err := deps.Archiver.ArchiveAudit(gctx, before)
		if err != nil {
			return fmt.Errorf("archive mode: audit: %w", err)
		}
		audits = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	var objects, size int64
	infos, err := deps.Archiver.Inventory(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "app: archive inventory failed",
			slog.String("error", err.Error()),
		)
	}
	for _, info := range infos {
		objects++
		size += info.Size
	}

	a.logger.InfoContext(ctx, "app: archive complete",
		slog.Int64("trades", trades),
		slog.Int64("audit_entries", audits),
		slog.Int64("archive_objects", objects),
		slog.Int64("archive_bytes", size),
	)
	return nil
}

// buildReconciler assembles the ledger, the stop updater and the reconciler
// with every optional sink that is wired.
func (a *App) buildReconciler(deps *Dependencies) (*service.Reconciler, error) {
	params, err := trailingParams(a.cfg.Trailing)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if tz := a.cfg.Notify.Timezone; tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("notify timezone %q: %w", tz, err)
		}
	}

	rc := a.cfg.Reconcile
	rec := service.NewReconciler(
		deps.Venue,
		trailing.NewLedger(params),
		service.NewCancelRecreateUpdater(deps.Venue, a.logger),
		service.ReconcilerConfig{
			Interval:               rc.Interval.Duration,
			AlignToInterval:        rc.AlignToInterval,
			ActivationThresholdPct: decimal.NewFromFloat(rc.ActivationThresholdPct),
			UpdateThresholdPct:     decimal.NewFromFloat(rc.UpdateThresholdPct),
			BackoffInitial:         rc.BackoffInitial.Duration,
			BackoffMax:             rc.BackoffMax.Duration,
			VenueTimeout:           rc.VenueTimeout.Duration,
		},
		a.logger,
	).
		WithSignalBus(deps.SignalBus).
		WithAuditStore(deps.AuditStore).
		WithPriceCache(deps.PriceCache).
		WithMetrics(deps.Metrics)

	if deps.Notifier.Enabled() {
		rec = rec.WithNotifier(deps.Notifier, loc)
	}
	if rc.InstanceLock {
		rec = rec.WithInstanceLock(deps.LockManager, reconcilerLockKey, rc.LockTTL.Duration)
	}
	return rec, nil
}

func trailingParams(c config.TrailingConfig) (trailing.Params, error) {
	p := trailing.Params{
		InitialAF:   decimal.NewFromFloat(c.InitialAF),
		AFIncrement: decimal.NewFromFloat(c.AFIncrement),
		MaxAF:       decimal.NewFromFloat(c.MaxAF),
	}
	if err := p.Validate(); err != nil {
		return trailing.Params{}, err
	}
	return p, nil
}

// baseHandlers builds the handlers every serving mode exposes. cycle may be
// nil.
func (a *App) baseHandlers(deps *Dependencies, cycle handler.CycleReporter) server.Handlers {
	var opts []costbasis.Option
	if a.cfg.CostBasis.DisposalFeeInBasis {
		opts = append(opts, costbasis.WithDisposalFeeInBasis())
	}
	trades := service.NewTradeService(
		deps.TradeStore,
		costbasis.NewEngine(a.logger, opts...),
		deps.PriceCache,
		deps.SignalBus,
		deps.AuditStore,
		a.logger,
	)

	return server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, a.cfg.Venue.Kind, cycle),
		Trades:   handler.NewTradeHandler(trades, a.logger),
		Holdings: handler.NewHoldingsHandler(trades, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
		Events:   handler.NewEventsHandler(deps.SignalBus, a.logger),
		Metrics:  deps.Metrics.Handler(),
	}
}

// startHTTPServer runs the API server and the WebSocket hub in g until ctx is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, handlers server.Handlers) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           strings.ToLower(a.cfg.Mode),
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RequestsPerSec: a.cfg.Server.RequestsPerSec,
		RequestBurst:   a.cfg.Server.RequestBurst,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
