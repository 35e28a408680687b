package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a TOML or YAML configuration file at path (picked by
// extension), merges it on top of the built-in defaults, applies TARBOT_*
// environment variable overrides, and returns the final Config. An empty
// path uses defaults and the environment only. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(filepath.Ext(path), data, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decode(ext string, data []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml", "":
		_, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		return err
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// applyEnvOverrides reads well-known TARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the config file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "TARBOT_MODE")

	// ── Log ──
	setStr(&cfg.Log.Level, "TARBOT_LOG_LEVEL")
	setStr(&cfg.Log.Format, "TARBOT_LOG_FORMAT")
	setStr(&cfg.Log.File, "TARBOT_LOG_FILE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TARBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TARBOT_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TARBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "TARBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TARBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TARBOT_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TARBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TARBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TARBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TARBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TARBOT_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "TARBOT_NOTIFY_COOLDOWN")

	// ── Tarbit ──
	setBool(&cfg.Tarbit.Execute, "TARBOT_TARBIT_EXECUTE")
	setFloat64(&cfg.Tarbit.MinNet, "TARBOT_TARBIT_MIN_NET")
	setFloat64(&cfg.Tarbit.MinVolume, "TARBOT_TARBIT_MIN_VOLUME")
	setBool(&cfg.Tarbit.Repeat, "TARBOT_TARBIT_REPEAT")
	setDuration(&cfg.Tarbit.ScanInterval, "TARBOT_TARBIT_SCAN_INTERVAL")

	// ── Rate limit ──
	setStr(&cfg.RateLimit.Backend, "TARBOT_RATELIMIT_BACKEND")

	// ── Exchanges ──
	exchangeEnv(&cfg.Exchanges.Coinbase, "TARBOT_COINBASE_")
	exchangeEnv(&cfg.Exchanges.Binance, "TARBOT_BINANCE_")
}

func exchangeEnv(ex *ExchangeConfig, prefix string) {
	setBool(&ex.Enabled, prefix+"ENABLED")
	setBool(&ex.Sandbox, prefix+"SANDBOX")
	setStr(&ex.APIKey, prefix+"API_KEY")
	setStr(&ex.Secret, prefix+"SECRET")
	setStr(&ex.SecretFile, prefix+"SECRET_FILE")
	setStr(&ex.SecretPassword, prefix+"SECRET_PASSWORD")
	setStr(&ex.Passphrase, prefix+"PASSPHRASE")
	setStr(&ex.RESTURL, prefix+"REST_URL")
	setStr(&ex.WSURL, prefix+"WS_URL")
	setStringSlice(&ex.Pairs, prefix+"PAIRS")
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

func setDuration(dst *Duration, key string) {
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
