package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v, want nil", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Trailing.InitialAF = 0.3
	cfg.Trailing.MaxAF = 0.2
	cfg.Reconcile.Interval = duration{0}
	cfg.Venue.Kind = "binance"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{
		`unknown mode "yolo"`,
		"max_af must be >= initial_af",
		"interval must be > 0",
		`unknown kind "binance"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateArchiveNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.S3.Bucket = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "s3: bucket") {
		t.Errorf("Validate() = %v, want s3 bucket error", err)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "api"

[trailing]
initial_af = 0.01
max_af = 0.1

[reconcile]
interval = "30s"
update_threshold_pct = 0.25

[[venue.paper]]
symbol = "BTC"
side = "long"
contracts = 0.5
entry_price = 60000
stop_price = 57000
tp_price = 66000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRAILSTOP_LOG_LEVEL", "debug")
	t.Setenv("TRAILSTOP_RECONCILE_BACKOFF_MAX", "90s")
	t.Setenv("TRAILSTOP_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "api" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %q/%q, want api/debug", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Trailing.InitialAF != 0.01 || cfg.Trailing.MaxAF != 0.1 || cfg.Trailing.AFIncrement != 0.02 {
		t.Errorf("trailing = %+v", cfg.Trailing)
	}
	if cfg.Reconcile.Interval.Duration != 30*time.Second {
		t.Errorf("interval = %v, want 30s", cfg.Reconcile.Interval.Duration)
	}
	if cfg.Reconcile.BackoffMax.Duration != 90*time.Second {
		t.Errorf("backoff_max = %v, want 90s", cfg.Reconcile.BackoffMax.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors_origins = %v", cfg.Server.CORSOrigins)
	}
	if len(cfg.Venue.Paper) != 1 || cfg.Venue.Paper[0].StopPrice != 57000 {
		t.Errorf("venue.paper = %+v", cfg.Venue.Paper)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Reconcile.Interval.Duration != time.Minute {
		t.Errorf("interval = %v, want default 1m", cfg.Reconcile.Interval.Duration)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "k"
	cfg.Notify.DiscordWebhookURL = "https://discord/x"

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != "***" || out.Server.APIKey != "***" || out.Notify.DiscordWebhookURL != "***" {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if out.Redis.Password != "" {
		t.Errorf("empty secret became %q", out.Redis.Password)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Error("redaction mutated the original")
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Error("redacted copy shares the events slice")
	}
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"postgres://bot:hunter2@db:5432/trailstop?sslmode=disable", "postgres://bot:***@db:5432/trailstop?sslmode=disable"},
		{"postgres://db:5432/trailstop?password=hunter2", "postgres://db:5432/trailstop?password=%2A%2A%2A"},
		{"host=db user=bot password=hunter2", "***"},
	}
	for _, tt := range tests {
		if got := redactDSN(tt.in); got != tt.want {
			t.Errorf("redactDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
