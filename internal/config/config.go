// Package config defines the tarbot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML or YAML file and then optionally overridden by TARBOT_* environment
// variables.
type Config struct {
	Mode       string          `toml:"mode" yaml:"mode"`
	Log        LogConfig       `toml:"log" yaml:"log"`
	Postgres   PostgresConfig  `toml:"postgres" yaml:"postgres"`
	Redis      RedisConfig     `toml:"redis" yaml:"redis"`
	S3         S3Config        `toml:"s3" yaml:"s3"`
	Server     ServerConfig    `toml:"server" yaml:"server"`
	Notify     NotifyConfig    `toml:"notify" yaml:"notify"`
	Engine     EngineConfig    `toml:"engine" yaml:"engine"`
	Tarbit     TarbitConfig    `toml:"tarbit" yaml:"tarbit"`
	Orders     OrdersConfig    `toml:"orders" yaml:"orders"`
	RateLimit  RateLimitConfig `toml:"ratelimit" yaml:"ratelimit"`
	Currencies CurrencyConfig  `toml:"currencies" yaml:"currencies"`
	Archive    ArchiveConfig   `toml:"archive" yaml:"archive"`
	Exchanges  ExchangesConfig `toml:"exchanges" yaml:"exchanges"`
}

// LogConfig selects the slog handler and an optional rotating file.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // json or text
	// File enables lumberjack rotation; empty logs to stdout.
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn" yaml:"dsn"`
	Host            string   `toml:"host" yaml:"host"`
	Port            int      `toml:"port" yaml:"port"`
	Database        string   `toml:"database" yaml:"database"`
	User            string   `toml:"user" yaml:"user"`
	Password        string   `toml:"password" yaml:"password"`
	SSLMode         string   `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns" yaml:"pool_min_conns"`
	MaxConnLifetime Duration `toml:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix" yaml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. An empty bucket
// disables archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// ServerConfig holds status API parameters.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled" yaml:"enabled"`
	Port          int      `toml:"port" yaml:"port"`
	APIKey        string   `toml:"api_key" yaml:"api_key"`
	CORSOrigins   []string `toml:"cors_origins" yaml:"cors_origins"`
	RatePerSecond float64  `toml:"rate_per_second" yaml:"rate_per_second"`
	RateBurst     int      `toml:"rate_burst" yaml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api" yaml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
	Cooldown          Duration `toml:"cooldown" yaml:"cooldown"`
}

// EngineConfig tunes the order-book sync engine and the REST localizer.
type EngineConfig struct {
	QueueFailsafe   int      `toml:"queue_failsafe" yaml:"queue_failsafe"`
	QueueLimit      int      `toml:"queue_limit" yaml:"queue_limit"`
	IdleWait        Duration `toml:"idle_wait" yaml:"idle_wait"`
	UnprimedWait    Duration `toml:"unprimed_wait" yaml:"unprimed_wait"`
	OverflowWait    Duration `toml:"overflow_wait" yaml:"overflow_wait"`
	ResyncRetry     Duration `toml:"resync_retry" yaml:"resync_retry"`
	PersistInterval Duration `toml:"persist_interval" yaml:"persist_interval"`
	PersistTTL      Duration `toml:"persist_ttl" yaml:"persist_ttl"`
	RestCacheTTL    Duration `toml:"rest_cache_ttl" yaml:"rest_cache_ttl"`
	CallCacheTTL    Duration `toml:"call_cache_ttl" yaml:"call_cache_ttl"`
	MaxReconnects   int      `toml:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait   Duration `toml:"reconnect_wait" yaml:"reconnect_wait"`
	BatchWindow     Duration `toml:"batch_window" yaml:"batch_window"`
	MaxBatchErrors  int      `toml:"max_batch_errors" yaml:"max_batch_errors"`
}

// TarbitConfig tunes scanning and execution.
type TarbitConfig struct {
	Execute      bool     `toml:"execute" yaml:"execute"`
	MinNet       float64  `toml:"min_net" yaml:"min_net"`
	MinVolume    float64  `toml:"min_volume" yaml:"min_volume"`
	Repeat       bool     `toml:"repeat" yaml:"repeat"`
	ScanInterval Duration `toml:"scan_interval" yaml:"scan_interval"`
	DedupTTL     Duration `toml:"dedup_ttl" yaml:"dedup_ttl"`
	LockTTL      Duration `toml:"lock_ttl" yaml:"lock_ttl"`
}

// OrdersConfig tunes the order lifecycle manager.
type OrdersConfig struct {
	PriceFailsafePct float64 `toml:"price_failsafe_pct" yaml:"price_failsafe_pct"`
	// FillSchedule overrides the pauses between fill checks.
	FillSchedule []Duration `toml:"fill_schedule" yaml:"fill_schedule"`
}

// RateLimitConfig selects the limiter backend and per-exchange limits in
// calls per second.
type RateLimitConfig struct {
	Backend     string         `toml:"backend" yaml:"backend"` // memory or redis
	Default     int            `toml:"default" yaml:"default"`
	PerExchange map[string]int `toml:"per_exchange" yaml:"per_exchange"`
}

// CurrencyConfig lists the currencies the converter treats as stable.
type CurrencyConfig struct {
	Stablecoins []string `toml:"stablecoins" yaml:"stablecoins"`
	Fiat        []string `toml:"fiat" yaml:"fiat"`
	Popcoins    []string `toml:"popcoins" yaml:"popcoins"`
}

// ArchiveConfig sets how old a record must be before the archive mode
// uploads it.
type ArchiveConfig struct {
	RetentionDays int `toml:"retention_days" yaml:"retention_days"`
}

// ExchangesConfig holds per-exchange settings.
type ExchangesConfig struct {
	Coinbase ExchangeConfig `toml:"coinbase" yaml:"coinbase"`
	Binance  ExchangeConfig `toml:"binance" yaml:"binance"`
}

// ExchangeConfig configures one exchange adapter. The secret may be given
// raw or as a file encrypted with a password.
type ExchangeConfig struct {
	Enabled        bool     `toml:"enabled" yaml:"enabled"`
	Sandbox        bool     `toml:"sandbox" yaml:"sandbox"`
	APIKey         string   `toml:"api_key" yaml:"api_key"`
	Secret         string   `toml:"secret" yaml:"secret"`
	SecretFile     string   `toml:"secret_file" yaml:"secret_file"`
	SecretPassword string   `toml:"secret_password" yaml:"secret_password"`
	Passphrase     string   `toml:"passphrase" yaml:"passphrase"`
	RESTURL        string   `toml:"rest_url" yaml:"rest_url"`
	WSURL          string   `toml:"ws_url" yaml:"ws_url"`
	Slippage       float64  `toml:"slippage" yaml:"slippage"`
	TakerFee       float64  `toml:"taker_fee" yaml:"taker_fee"`
	DepthLimit     int      `toml:"depth_limit" yaml:"depth_limit"`
	Precision      int32    `toml:"precision" yaml:"precision"`
	Pairs          []string `toml:"pairs" yaml:"pairs"` // live-synced pairs, empty for the whole online catalog
}

// Duration wraps time.Duration so both decoders accept "5m" or "30s".
type Duration struct {
	time.Duration
}

// D is a shorthand constructor.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Modes.
const (
	ModeLocalizeWS     = "localize-ws"
	ModeLocalizeREST   = "localize-rest"
	ModeSyncCatalog    = "sync-catalog"
	ModeUpdateConverts = "update-converts"
	ModeTarbitScan     = "tarbit-scan"
	ModeExchangeStats  = "exchange-stats"
	ModeArchive        = "archive"
	ModeDBMigrate      = "db-migrate"
	ModeCacheFlush     = "cache-flush"
	ModeServer         = "server"
)

// Modes lists every accepted Config.Mode.
var Modes = []string{
	ModeLocalizeWS, ModeLocalizeREST, ModeSyncCatalog, ModeUpdateConverts,
	ModeTarbitScan, ModeExchangeStats, ModeArchive, ModeDBMigrate,
	ModeCacheFlush, ModeServer,
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode: ModeTarbitScan,
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxAgeDays: 14,
			MaxBackups: 5,
			Compress:   true,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "tarbot",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: D(time.Hour),
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "tarbot",
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			RatePerSecond: 10,
			RateBurst:     20,
		},
		Notify: NotifyConfig{
			Events:   []string{domain.EventTarbitCompleted, domain.EventTarbitFailed, domain.EventFillTimeout, domain.EventStreamDown},
			Cooldown: D(time.Minute),
		},
		Engine: EngineConfig{
			QueueFailsafe:   200,
			QueueLimit:      2000,
			IdleWait:        D(100 * time.Millisecond),
			UnprimedWait:    D(time.Second),
			OverflowWait:    D(3 * time.Second),
			ResyncRetry:     D(30 * time.Second),
			PersistInterval: D(time.Second),
			PersistTTL:      D(15 * time.Second),
			RestCacheTTL:    D(15 * time.Second),
			CallCacheTTL:    D(time.Minute),
			MaxReconnects:   10,
			ReconnectWait:   D(2 * time.Second),
			BatchWindow:     D(time.Second),
			MaxBatchErrors:  50,
		},
		Tarbit: TarbitConfig{
			MinNet:       0,
			MinVolume:    10000,
			ScanInterval: D(5 * time.Second),
			DedupTTL:     D(time.Minute),
			LockTTL:      D(5 * time.Minute),
		},
		Orders: OrdersConfig{
			PriceFailsafePct: 1.5,
		},
		RateLimit: RateLimitConfig{
			Backend: "memory",
			Default: 3,
			PerExchange: map[string]int{
				"coinbase": 3,
				"binance":  10,
			},
		},
		Currencies: CurrencyConfig{
			Stablecoins: []string{"USDT", "USDC", "DAI", "TUSD", "BUSD", "PAX", "GUSD", "USDS"},
			Fiat:        []string{"USD", "EUR", "GBP"},
			Popcoins:    []string{"BTC", "ETH"},
		},
		Archive: ArchiveConfig{RetentionDays: 30},
		Exchanges: ExchangesConfig{
			Coinbase: ExchangeConfig{Enabled: true, Slippage: 0.00009999, DepthLimit: 2, Precision: 8},
			Binance:  ExchangeConfig{TakerFee: 0.001, DepthLimit: 100, Precision: 8},
		},
	}
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// needsExchanges reports whether mode talks to exchange APIs.
func needsExchanges(mode string) bool {
	switch mode {
	case ModeDBMigrate, ModeCacheFlush, ModeArchive, ModeServer:
		return false
	}
	return true
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	validMode := false
	for _, m := range Modes {
		if strings.EqualFold(c.Mode, m) {
			validMode = true
			break
		}
	}
	if !validMode {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: %s)", c.Mode, strings.Join(Modes, ", ")))
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("log: format must be json or text, got %q", c.Log.Format))
	}

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
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Mode == ModeArchive {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required for archive mode")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Engine.QueueFailsafe < 1 || c.Engine.QueueLimit < c.Engine.QueueFailsafe {
		errs = append(errs, "engine: need 1 <= queue_failsafe <= queue_limit")
	}
	if c.Engine.MaxReconnects < 1 {
		errs = append(errs, "engine: max_reconnects must be >= 1")
	}
	if c.Engine.PersistInterval.Duration <= 0 {
		errs = append(errs, "engine: persist_interval must be > 0")
	}

	if c.Tarbit.ScanInterval.Duration <= 0 {
		errs = append(errs, "tarbit: scan_interval must be > 0")
	}
	if c.Tarbit.MinVolume < 0 {
		errs = append(errs, "tarbit: min_volume must be >= 0")
	}

	if c.Orders.PriceFailsafePct <= 0 {
		errs = append(errs, "orders: price_failsafe_pct must be > 0")
	}
	for _, d := range c.Orders.FillSchedule {
		if d.Duration <= 0 {
			errs = append(errs, "orders: fill_schedule entries must be > 0")
			break
		}
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("ratelimit: backend must be memory or redis, got %q", c.RateLimit.Backend))
	}
	if c.RateLimit.Default < 1 {
		errs = append(errs, "ratelimit: default must be >= 1")
	}
	for name, n := range c.RateLimit.PerExchange {
		if _, ok := domain.ParseExchangeID(name); !ok {
			errs = append(errs, fmt.Sprintf("ratelimit: unknown exchange %q", name))
		}
		if n < 1 {
			errs = append(errs, fmt.Sprintf("ratelimit: %s limit must be >= 1", name))
		}
	}

	if needsExchanges(c.Mode) && !c.Exchanges.Coinbase.Enabled && !c.Exchanges.Binance.Enabled {
		errs = append(errs, "exchanges: at least one exchange must be enabled for mode "+c.Mode)
	}
	for name, ex := range map[string]ExchangeConfig{"coinbase": c.Exchanges.Coinbase, "binance": c.Exchanges.Binance} {
		if ex.SecretFile != "" && ex.SecretPassword == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: secret_password is required when secret_file is set", name))
		}
		if ex.Slippage < 0 || ex.TakerFee < 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: slippage and taker_fee must be >= 0", name))
		}
	}
	if c.Exchanges.Coinbase.APIKey != "" && c.Exchanges.Coinbase.Passphrase == "" {
		errs = append(errs, "exchanges.coinbase: passphrase is required with an api_key")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Schedule returns the fill schedule as plain durations, nil when unset.
func (o OrdersConfig) Schedule() []time.Duration {
	if len(o.FillSchedule) == 0 {
		return nil
	}
	out := make([]time.Duration, len(o.FillSchedule))
	for i, d := range o.FillSchedule {
		out[i] = d.Duration
	}
	return out
}

// Limits resolves PerExchange names to exchange ids. Unknown names are
// skipped; Validate reports them.
func (r RateLimitConfig) Limits() map[domain.ExchangeID]int {
	out := make(map[domain.ExchangeID]int, len(r.PerExchange))
	for name, n := range r.PerExchange {
		if id, ok := domain.ParseExchangeID(name); ok {
			out[id] = n
		}
	}
	return out
}
