package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadByExtension(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "toml",
			file: "tarbot.toml",
			body: `
mode = "localize-ws"

[tarbit]
min_net = 0.5
scan_interval = "2s"

[ratelimit.per_exchange]
binance = 20

[exchanges.binance]
enabled = true
pairs = ["BTC-USDT", "ETH-BTC"]
`,
		},
		{
			name: "yaml",
			file: "tarbot.yaml",
			body: `
mode: localize-ws
tarbit:
  min_net: 0.5
  scan_interval: 2s
ratelimit:
  per_exchange:
    binance: 20
exchanges:
  binance:
    enabled: true
    pairs: [BTC-USDT, ETH-BTC]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.file, tt.body))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Mode != ModeLocalizeWS {
				t.Errorf("mode = %q", cfg.Mode)
			}
			if cfg.Tarbit.MinNet != 0.5 || cfg.Tarbit.ScanInterval.Duration != 2*time.Second {
				t.Errorf("tarbit = %+v", cfg.Tarbit)
			}
			if cfg.RateLimit.Limits()[domain.ExchangeBinance] != 20 {
				t.Errorf("limits = %v", cfg.RateLimit.Limits())
			}
			if !cfg.Exchanges.Binance.Enabled || len(cfg.Exchanges.Binance.Pairs) != 2 {
				t.Errorf("binance = %+v", cfg.Exchanges.Binance)
			}
			// Untouched sections keep their defaults.
			if cfg.Engine.QueueFailsafe != 200 || cfg.Postgres.Port != 5432 {
				t.Errorf("defaults lost: engine %+v postgres %+v", cfg.Engine, cfg.Postgres)
			}
		})
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	if _, err := Load(writeFile(t, "tarbot.json", "{}")); err == nil {
		t.Fatal("expected an error for .json")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TARBOT_MODE", "cache-flush")
	t.Setenv("TARBOT_REDIS_ADDR", "redis:6380")
	t.Setenv("TARBOT_TARBIT_SCAN_INTERVAL", "750ms")
	t.Setenv("TARBOT_BINANCE_PAIRS", "BTC-USDT, ETH-USDT ,")
	t.Setenv("TARBOT_COINBASE_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeCacheFlush || cfg.Redis.Addr != "redis:6380" {
		t.Errorf("mode %q addr %q", cfg.Mode, cfg.Redis.Addr)
	}
	if cfg.Tarbit.ScanInterval.Duration != 750*time.Millisecond {
		t.Errorf("scan interval = %v", cfg.Tarbit.ScanInterval)
	}
	if got := cfg.Exchanges.Binance.Pairs; len(got) != 2 || got[1] != "ETH-USDT" {
		t.Errorf("pairs = %v", got)
	}
	if cfg.Exchanges.Coinbase.Enabled {
		t.Error("coinbase should be disabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log: unknown level"},
		{"archive needs bucket", func(c *Config) { c.Mode = ModeArchive }, "s3: bucket is required"},
		{"queue bounds", func(c *Config) { c.Engine.QueueLimit = 10 }, "queue_failsafe <= queue_limit"},
		{"limiter backend", func(c *Config) { c.RateLimit.Backend = "etcd" }, "ratelimit: backend"},
		{"unknown exchange limit", func(c *Config) { c.RateLimit.PerExchange["kraken"] = 5 }, `unknown exchange "kraken"`},
		{"no exchanges", func(c *Config) { c.Exchanges.Coinbase.Enabled = false }, "at least one exchange"},
		{"secret file password", func(c *Config) { c.Exchanges.Binance.SecretFile = "/k.json" }, "secret_password is required"},
		{"coinbase passphrase", func(c *Config) { c.Exchanges.Coinbase.APIKey = "k" }, "passphrase is required"},
		{"bad fill schedule", func(c *Config) { c.Orders.FillSchedule = []Duration{D(0)} }, "fill_schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Exchanges.Coinbase.Secret = "s3cr3t"
	cfg.Exchanges.Coinbase.Passphrase = "phrase"
	cfg.Notify.TelegramToken = "tok"

	out := cfg.Redacted()
	for name, v := range map[string]string{
		"postgres password":   out.Postgres.Password,
		"coinbase secret":     out.Exchanges.Coinbase.Secret,
		"coinbase passphrase": out.Exchanges.Coinbase.Passphrase,
		"telegram token":      out.Notify.TelegramToken,
	} {
		if v != "***" {
			t.Errorf("%s = %q, want redacted", name, v)
		}
	}
	if out.S3.SecretKey != "" {
		t.Error("empty secrets should stay empty")
	}
	if cfg.Exchanges.Coinbase.Secret != "s3cr3t" {
		t.Error("original was modified")
	}

	out.RateLimit.PerExchange["coinbase"] = 99
	if cfg.RateLimit.PerExchange["coinbase"] == 99 {
		t.Error("redacted copy shares the limits map")
	}
}

func TestSchedule(t *testing.T) {
	if Defaults().Orders.Schedule() != nil {
		t.Error("unset schedule should be nil")
	}
	o := OrdersConfig{FillSchedule: []Duration{D(time.Second), D(3 * time.Second)}}
	if got := o.Schedule(); len(got) != 2 || got[1] != 3*time.Second {
		t.Errorf("Schedule() = %v", got)
	}
}

func TestLogConfig(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"debug", "DEBUG"},
		{"WARN", "WARN"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := (LogConfig{Level: tt.level}).SlogLevel().String(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %s, want %s", tt.level, got, tt.want)
		}
	}

	path := filepath.Join(t.TempDir(), "tarbot.log")
	w := LogConfig{File: path, MaxSizeMB: 1}.Writer()
	logger := LogConfig{Level: "info", Format: "json"}.NewLogger(w)
	logger.Info("hello", "component", "test")
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %s", data)
	}
}
