package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/tarbot/internal/blob/s3"
	"github.com/alanyoungcy/tarbot/internal/cache/redis"
	"github.com/alanyoungcy/tarbot/internal/config"
	"github.com/alanyoungcy/tarbot/internal/crypto"
	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/exchange"
	"github.com/alanyoungcy/tarbot/internal/exchange/binance"
	"github.com/alanyoungcy/tarbot/internal/exchange/coinbase"
	"github.com/alanyoungcy/tarbot/internal/exchange/wsconn"
	"github.com/alanyoungcy/tarbot/internal/market"
	"github.com/alanyoungcy/tarbot/internal/notify"
	"github.com/alanyoungcy/tarbot/internal/ratelimit"
	"github.com/alanyoungcy/tarbot/internal/store/postgres"
)

// limiterWindow is the sliding window of every exchange rate limit; limits
// are configured in calls per second.
const limiterWindow = time.Second

// Dependencies bundles every concrete dependency the modes need. Fields of a
// backend the mode does not use stay nil.
type Dependencies struct {
	// Stores
	Postgres      *postgres.Client
	ExchangeStore domain.ExchangeStore
	ProductStore  domain.ProductStore
	OrderStore    domain.OrderStore
	TarbitStore   domain.TarbitStore
	ConvertStore  domain.ConvertStore

	// Caches
	Redis       *redis.Client
	CallCache   domain.Cache
	BookCache   domain.BookCache
	LockManager domain.LockManager
	EventBus    domain.EventBus

	// Exchanges
	Registry  *exchange.Registry
	Limiters  *ratelimit.Set
	Access    *market.Access
	Converter *market.Converter

	// Blob storage
	S3       *s3blob.Client
	Archiver domain.Archiver

	// Notifications
	Notifier  *notify.Notifier
	Publisher *notify.Publisher
}

// needsPostgres reports whether mode reads or writes the database.
func needsPostgres(mode string) bool {
	return mode != config.ModeCacheFlush
}

// needsRedis reports whether mode uses the shared cache, locks or events.
func needsRedis(mode string) bool {
	switch mode {
	case config.ModeDBMigrate, config.ModeArchive:
		return false
	default:
		return true
	}
}

// needsExchanges reports whether mode talks to exchange APIs.
func needsExchanges(mode string) bool {
	switch mode {
	case config.ModeDBMigrate, config.ModeCacheFlush, config.ModeArchive, config.ModeServer:
		return false
	default:
		return true
	}
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		deps.Postgres = pgClient

		// db-migrate applies migrations itself and reports them.
		if cfg.Postgres.RunMigrations && cfg.Mode != config.ModeDBMigrate {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "applied migrations", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.ExchangeStore = postgres.NewExchangeStore(pool)
		deps.ProductStore = postgres.NewProductStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.TarbitStore = postgres.NewTarbitStore(pool)
		deps.ConvertStore = postgres.NewConvertStore(pool)
	}

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Redis = redisClient

		deps.CallCache = redis.NewCallCache(redisClient)
		deps.BookCache = redis.NewBookCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.Mode == config.ModeArchive {
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
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(s3Client, deps.TarbitStore, deps.OrderStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithCooldown(cfg.Notify.Cooldown.Duration),
	)
	deps.Publisher = notify.NewPublisher(deps.EventBus, deps.Notifier, logger)

	// --- Exchanges ---
	deps.Limiters = ratelimit.NewSet(cfg.RateLimit.Limits(), cfg.RateLimit.Default, limiterFactory(cfg, deps.Redis, logger), logger)
	deps.Registry = exchange.NewRegistry()
	if needsExchanges(cfg.Mode) {
		if err := registerExchanges(cfg, deps.Registry, deps.Limiters, logger); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
	}
	deps.Access = market.NewAccess(deps.Registry, deps.Limiters, deps.BookCache, cfg.Engine.RestCacheTTL.Duration, logger)
	if deps.ConvertStore != nil {
		deps.Converter = market.NewConverter(deps.ConvertStore, market.ConverterConfig{
			Stablecoins: cfg.Currencies.Stablecoins,
			Fiat:        cfg.Currencies.Fiat,
			Popcoins:    cfg.Currencies.Popcoins,
		}, logger).WithCallCache(deps.CallCache, cfg.Engine.CallCacheTTL.Duration)
	}

	return deps, cleanup, nil
}

// limiterFactory returns nil, the in-process sliding window, unless the
// redis backend is selected and a redis client is available.
func limiterFactory(cfg *config.Config, rc *redis.Client, logger *slog.Logger) ratelimit.Factory {
	if cfg.RateLimit.Backend != "redis" || rc == nil {
		return nil
	}
	return func(id domain.ExchangeID, limit int) domain.RateLimiter {
		return redis.NewRateLimiter(rc, id.String(), limit, limiterWindow, logger)
	}
}

// registerExchanges builds the adapter and stream of every enabled
// exchange.
func registerExchanges(cfg *config.Config, reg *exchange.Registry, limiters *ratelimit.Set, logger *slog.Logger) error {
	if ex := cfg.Exchanges.Coinbase; ex.Enabled {
		secret, err := ex.ResolveSecret()
		if err != nil {
			return fmt.Errorf("coinbase secret: %w", err)
		}
		cbCfg := coinbase.DefaultConfig()
		cbCfg.Auth = crypto.HMACAuth{Key: ex.APIKey, Secret: secret, Passphrase: ex.Passphrase}
		wsURL := coinbase.DefaultWSURL
		if ex.Sandbox {
			cbCfg.RESTURL = coinbase.SandboxRESTURL
			wsURL = coinbase.SandboxWSURL
		}
		if ex.RESTURL != "" {
			cbCfg.RESTURL = ex.RESTURL
		}
		if ex.WSURL != "" {
			wsURL = ex.WSURL
		}
		if ex.Slippage > 0 {
			cbCfg.APISlippage = ex.Slippage
		}
		if ex.DepthLimit > 0 {
			cbCfg.DepthLevel = ex.DepthLimit
		}
		if ex.Precision > 0 {
			cbCfg.Precision = ex.Precision
		}

		wsCfg := wsconn.DefaultConfig(wsURL)
		wsCfg.MaxReconnects = cfg.Engine.MaxReconnects
		wsCfg.ReconnectWait = cfg.Engine.ReconnectWait.Duration

		reg.Register(
			coinbase.NewClient(cbCfg, limiters.For(domain.ExchangeCoinbase), logger),
			coinbase.NewStreamWithConfig(wsCfg, logger),
		)
	}

	if ex := cfg.Exchanges.Binance; ex.Enabled {
		secret, err := ex.ResolveSecret()
		if err != nil {
			return fmt.Errorf("binance secret: %w", err)
		}
		bnCfg := binance.DefaultConfig()
		bnCfg.APIKey = ex.APIKey
		bnCfg.SecretKey = secret
		bnCfg.BaseURL = ex.RESTURL
		bnCfg.Testnet = ex.Sandbox
		if ex.TakerFee > 0 {
			bnCfg.TakerFee = ex.TakerFee
		}
		bnCfg.APISlippage = ex.Slippage
		if ex.DepthLimit > 0 {
			bnCfg.DepthLimit = ex.DepthLimit
		}
		if ex.Precision > 0 {
			bnCfg.Precision = ex.Precision
		}

		client := binance.NewClient(bnCfg, limiters.For(domain.ExchangeBinance), logger)
		stream := binance.NewStream(client, logger).
			WithReconnect(cfg.Engine.MaxReconnects, cfg.Engine.ReconnectWait.Duration)
		reg.Register(client, stream)
	}
	return nil
}
