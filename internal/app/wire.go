package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/trailstop/internal/blob/s3"
	"github.com/alanyoungcy/trailstop/internal/cache/redis"
	"github.com/alanyoungcy/trailstop/internal/config"
	"github.com/alanyoungcy/trailstop/internal/domain"
	"github.com/alanyoungcy/trailstop/internal/metrics"
	"github.com/alanyoungcy/trailstop/internal/notify"
	"github.com/alanyoungcy/trailstop/internal/server/handler"
	"github.com/alanyoungcy/trailstop/internal/store/postgres"
	"github.com/alanyoungcy/trailstop/internal/venue/paper"
	"github.com/alanyoungcy/trailstop/internal/venue/ratelimit"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage (archive mode only)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Venue is Paper behind the rate limiter, when one is configured.
	Venue domain.Venue
	Paper *paper.Venue

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// HealthChecks are probed by GET /api/health.
	HealthChecks map[string]handler.HealthChecker
}

// needsVenue returns true for modes that talk to the exchange.
func needsVenue(mode string) bool {
	return mode == "reconcile"
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	return mode == "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthChecker)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 blob storage ---
	if needsS3(mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(writer, reader, deps.TradeStore, deps.AuditStore, logger)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(reg)

	// --- Venue ---
	if needsVenue(mode) {
		pv, err := newPaperVenue(cfg.Venue.Paper, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: paper venue: %w", err)
		}
		deps.Paper = pv
		deps.Venue = pv
		if cfg.Venue.RatePerSec > 0 {
			deps.Venue = ratelimit.New(pv, cfg.Venue.RatePerSec, cfg.Venue.Burst, deps.Metrics)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// newPaperVenue opens the configured positions on a fresh paper venue.
func newPaperVenue(seeds []config.PaperPosition, logger *slog.Logger) (*paper.Venue, error) {
	v := paper.New(logger)
	for _, p := range seeds {
		side, err := domain.ParseSide(p.Side)
		if err != nil {
			return nil, err
		}
		entry, err := domain.PriceFromFloat(p.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("%s entry_price: %w", p.Symbol, err)
		}
		if err := v.Open(paper.Seed{
			Symbol:     p.Symbol,
			Side:       side,
			Contracts:  decimal.NewFromFloat(p.Contracts),
			EntryPrice: entry,
			StopPrice:  decimal.NewFromFloat(p.StopPrice),
			TPPrice:    decimal.NewFromFloat(p.TPPrice),
			Price:      decimal.NewFromFloat(p.Price),
		}); err != nil {
			return nil, err
		}
	}
	return v, nil
}
