// Package config defines the top-level configuration for the trailing-stop
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRAILSTOP_* environment variables.
type Config struct {
	Trailing  TrailingConfig  `toml:"trailing"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Venue     VenueConfig     `toml:"venue"`
	CostBasis CostBasisConfig `toml:"costbasis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// TrailingConfig holds the acceleration-factor bounds of the ratchet.
type TrailingConfig struct {
	InitialAF   float64 `toml:"initial_af"`
	AFIncrement float64 `toml:"af_increment"`
	MaxAF       float64 `toml:"max_af"`
}

// ReconcileConfig holds the reconciliation loop parameters.
type ReconcileConfig struct {
	Interval duration `toml:"interval"`
	// AlignToInterval starts each cycle on a wall-clock multiple of Interval.
	AlignToInterval        bool     `toml:"align_to_interval"`
	ActivationThresholdPct float64  `toml:"activation_threshold_pct"`
	UpdateThresholdPct     float64  `toml:"update_threshold_pct"`
	BackoffInitial         duration `toml:"backoff_initial"`
	BackoffMax             duration `toml:"backoff_max"`
	VenueTimeout           duration `toml:"venue_timeout"`
	InstanceLock           bool     `toml:"instance_lock"`
	LockTTL                duration `toml:"lock_ttl"`
}

// VenueConfig selects the venue adapter and its call budget.
type VenueConfig struct {
	Kind       string          `toml:"kind"`
	RatePerSec float64         `toml:"rate_per_sec"`
	Burst      int             `toml:"burst"`
	Paper      []PaperPosition `toml:"paper"`
}

// PaperPosition seeds the paper venue with an open position and its
// protective orders.
type PaperPosition struct {
	Symbol     string  `toml:"symbol"`
	Side       string  `toml:"side"`
	Contracts  float64 `toml:"contracts"`
	EntryPrice float64 `toml:"entry_price"`
	StopPrice  float64 `toml:"stop_price"`
	TPPrice    float64 `toml:"tp_price"`
	Price      float64 `toml:"price"`
}

// CostBasisConfig holds cost-basis replay options.
type CostBasisConfig struct {
	DisposalFeeInBasis bool `toml:"disposal_fee_in_basis"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PriceTTL     duration `toml:"price_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls how much ledger history stays in Postgres.
type ArchiveConfig struct {
	RetentionDays int `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RequestsPerSec limits each client address; zero disables the limit.
	RequestsPerSec float64 `toml:"requests_per_sec"`
	RequestBurst   int     `toml:"request_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Timezone is the IANA zone used for timestamps in message bodies.
	Timezone string `toml:"timezone"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Trailing: TrailingConfig{
			InitialAF:   0.02,
			AFIncrement: 0.02,
			MaxAF:       0.2,
		},
		Reconcile: ReconcileConfig{
			Interval:               duration{60 * time.Second},
			AlignToInterval:        true,
			ActivationThresholdPct: 1.0,
			UpdateThresholdPct:     0.1,
			BackoffInitial:         duration{5 * time.Second},
			BackoffMax:             duration{2 * time.Minute},
			VenueTimeout:           duration{10 * time.Second},
			InstanceLock:           true,
			LockTTL:                duration{3 * time.Minute},
		},
		Venue: VenueConfig{
			Kind:       "paper",
			RatePerSec: 5,
			Burst:      5,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "trailstop",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			PriceTTL:     duration{15 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "trailstop-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 365,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8080,
			CORSOrigins:    []string{"http://localhost:3000"},
			RequestsPerSec: 10,
			RequestBurst:   20,
		},
		Notify: NotifyConfig{
			Events:   []string{"trailing_activated", "stop_updated", "position_removed", "reconcile_failed"},
			Timezone: "Asia/Tokyo",
		},
		Mode:     "reconcile",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"reconcile": true,
	"api":       true,
	"archive":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{
	"paper": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: reconcile, api, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trailing
	if c.Trailing.InitialAF <= 0 {
		errs = append(errs, "trailing: initial_af must be > 0")
	}
	if c.Trailing.AFIncrement < 0 {
		errs = append(errs, "trailing: af_increment must be >= 0")
	}
	if c.Trailing.MaxAF < c.Trailing.InitialAF {
		errs = append(errs, "trailing: max_af must be >= initial_af")
	}
	if c.Trailing.MaxAF >= 1 {
		errs = append(errs, "trailing: max_af must be < 1")
	}

	// Reconcile
	if c.Reconcile.Interval.Duration <= 0 {
		errs = append(errs, "reconcile: interval must be > 0")
	}
	if c.Reconcile.ActivationThresholdPct < 0 {
		errs = append(errs, "reconcile: activation_threshold_pct must be >= 0")
	}
	if c.Reconcile.UpdateThresholdPct < 0 {
		errs = append(errs, "reconcile: update_threshold_pct must be >= 0")
	}
	if c.Reconcile.BackoffInitial.Duration <= 0 {
		errs = append(errs, "reconcile: backoff_initial must be > 0")
	}
	if c.Reconcile.BackoffMax.Duration < c.Reconcile.BackoffInitial.Duration {
		errs = append(errs, "reconcile: backoff_max must be >= backoff_initial")
	}
	if c.Reconcile.VenueTimeout.Duration <= 0 {
		errs = append(errs, "reconcile: venue_timeout must be > 0")
	}
	if c.Reconcile.InstanceLock && c.Reconcile.LockTTL.Duration <= c.Reconcile.Interval.Duration {
		errs = append(errs, "reconcile: lock_ttl must exceed interval when instance_lock is set")
	}

	// Venue
	if !validVenueKinds[strings.ToLower(c.Venue.Kind)] {
		errs = append(errs, fmt.Sprintf("venue: unknown kind %q (valid: paper)", c.Venue.Kind))
	}
	if c.Venue.RatePerSec < 0 {
		errs = append(errs, "venue: rate_per_sec must be >= 0")
	}
	if c.Venue.RatePerSec > 0 && c.Venue.Burst < 1 {
		errs = append(errs, "venue: burst must be >= 1 when rate_per_sec is set")
	}
	for i, p := range c.Venue.Paper {
		if p.Symbol == "" {
			errs = append(errs, fmt.Sprintf("venue.paper[%d]: symbol must not be empty", i))
		}
		if s := strings.ToLower(p.Side); s != "long" && s != "short" {
			errs = append(errs, fmt.Sprintf("venue.paper[%d]: side must be long or short, got %q", i, p.Side))
		}
		if p.EntryPrice <= 0 || p.Contracts <= 0 {
			errs = append(errs, fmt.Sprintf("venue.paper[%d]: entry_price and contracts must be > 0", i))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 and archive only matter when archiving.
	if strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled || strings.ToLower(c.Mode) == "api" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RequestsPerSec < 0 {
			errs = append(errs, "server: requests_per_sec must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.Timezone != "" {
		if _, err := time.LoadLocation(c.Notify.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("notify: unknown timezone %q", c.Notify.Timezone))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
