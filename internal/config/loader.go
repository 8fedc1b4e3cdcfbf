package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRAILSTOP_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the service can
// run from defaults plus environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRAILSTOP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Trailing ──
	setFloat64(&cfg.Trailing.InitialAF, "TRAILSTOP_TRAILING_INITIAL_AF")
	setFloat64(&cfg.Trailing.AFIncrement, "TRAILSTOP_TRAILING_AF_INCREMENT")
	setFloat64(&cfg.Trailing.MaxAF, "TRAILSTOP_TRAILING_MAX_AF")

	// ── Reconcile ──
	setDuration(&cfg.Reconcile.Interval, "TRAILSTOP_RECONCILE_INTERVAL")
	setBool(&cfg.Reconcile.AlignToInterval, "TRAILSTOP_RECONCILE_ALIGN_TO_INTERVAL")
	setFloat64(&cfg.Reconcile.ActivationThresholdPct, "TRAILSTOP_RECONCILE_ACTIVATION_THRESHOLD_PCT")
	setFloat64(&cfg.Reconcile.UpdateThresholdPct, "TRAILSTOP_RECONCILE_UPDATE_THRESHOLD_PCT")
	setDuration(&cfg.Reconcile.BackoffInitial, "TRAILSTOP_RECONCILE_BACKOFF_INITIAL")
	setDuration(&cfg.Reconcile.BackoffMax, "TRAILSTOP_RECONCILE_BACKOFF_MAX")
	setDuration(&cfg.Reconcile.VenueTimeout, "TRAILSTOP_RECONCILE_VENUE_TIMEOUT")
	setBool(&cfg.Reconcile.InstanceLock, "TRAILSTOP_RECONCILE_INSTANCE_LOCK")
	setDuration(&cfg.Reconcile.LockTTL, "TRAILSTOP_RECONCILE_LOCK_TTL")

	// ── Venue ──
	setStr(&cfg.Venue.Kind, "TRAILSTOP_VENUE_KIND")
	setFloat64(&cfg.Venue.RatePerSec, "TRAILSTOP_VENUE_RATE_PER_SEC")
	setInt(&cfg.Venue.Burst, "TRAILSTOP_VENUE_BURST")

	// ── Cost basis ──
	setBool(&cfg.CostBasis.DisposalFeeInBasis, "TRAILSTOP_COSTBASIS_DISPOSAL_FEE_IN_BASIS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRAILSTOP_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRAILSTOP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRAILSTOP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRAILSTOP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRAILSTOP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRAILSTOP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRAILSTOP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRAILSTOP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRAILSTOP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRAILSTOP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRAILSTOP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRAILSTOP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRAILSTOP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRAILSTOP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRAILSTOP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRAILSTOP_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "TRAILSTOP_REDIS_PRICE_TTL")
	setInt(&cfg.Redis.StreamMaxLen, "TRAILSTOP_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRAILSTOP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRAILSTOP_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRAILSTOP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRAILSTOP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRAILSTOP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRAILSTOP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRAILSTOP_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "TRAILSTOP_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRAILSTOP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRAILSTOP_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TRAILSTOP_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TRAILSTOP_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RequestsPerSec, "TRAILSTOP_SERVER_REQUESTS_PER_SEC")
	setInt(&cfg.Server.RequestBurst, "TRAILSTOP_SERVER_REQUEST_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRAILSTOP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRAILSTOP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRAILSTOP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRAILSTOP_NOTIFY_EVENTS")
	setStr(&cfg.Notify.Timezone, "TRAILSTOP_NOTIFY_TIMEZONE")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRAILSTOP_MODE")
	setStr(&cfg.LogLevel, "TRAILSTOP_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
