package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tarbot/internal/config"
	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/executor"
	"github.com/alanyoungcy/tarbot/internal/market"
	"github.com/alanyoungcy/tarbot/internal/order"
	"github.com/alanyoungcy/tarbot/internal/orderbook"
	"github.com/alanyoungcy/tarbot/internal/tarbit"
)

// LocalizeWSMode keeps live books of every exchange with a stream. Each
// exchange gets an orderbook engine fed by its stream and a persister that
// publishes the books to the shared cache for the scan processes.
func (a *App) LocalizeWSMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting websocket localization")

	g, ctx := errgroup.WithContext(ctx)
	var engines []*orderbook.Engine
	defer func() {
		for _, e := range engines {
			e.Wait()
		}
	}()

	for _, id := range deps.Registry.IDs() {
		stream, err := deps.Registry.Stream(id)
		if err != nil {
			a.logger.WarnContext(ctx, "exchange has no stream, skipping",
				slog.String("exchange", id.String()),
			)
			continue
		}
		pairs, err := a.pairsFor(ctx, deps, id)
		if err != nil {
			return fmt.Errorf("localize ws: %w", err)
		}
		if len(pairs) == 0 {
			a.logger.WarnContext(ctx, "no pairs to localize, run sync-catalog first",
				slog.String("exchange", id.String()),
			)
			continue
		}

		engine := orderbook.NewEngine(id, stream.Policy(), stream.Resync, a.engineConfig(), a.logger)
		engine.OnResync(func(pair string, reason error) {
			evt := domain.TarbitEvent{
				Type:       domain.EventBookResync,
				ExchangeID: id,
				Pairs:      [3]string{pair},
				Time:       time.Now().UTC(),
			}
			if reason != nil {
				evt.Reason = reason.Error()
			}
			deps.Publisher.PublishTarbit(ctx, evt)
		})
		for _, pair := range pairs {
			engine.Subscribe(ctx, pair)
		}
		engines = append(engines, engine)
		deps.Access.AttachLive(engine)
		a.trackLive(id, stream, engine.PrimedCount)

		if deps.BookCache != nil {
			persister := orderbook.NewPersister(engine, deps.BookCache,
				a.cfg.Engine.PersistInterval.Duration, a.cfg.Engine.PersistTTL.Duration,
				stream.Connected, a.logger)
			g.Go(func() error {
				return persister.Run(ctx)
			})
		}

		g.Go(func() error {
			a.logger.InfoContext(ctx, "stream starting",
				slog.String("exchange", id.String()),
				slog.Int("pairs", len(pairs)),
			)
			err := stream.Run(ctx, pairs, engine)
			if err != nil && ctx.Err() == nil {
				deps.Publisher.PublishTarbit(ctx, domain.TarbitEvent{
					Type:       domain.EventStreamDown,
					ExchangeID: id,
					Reason:     err.Error(),
					Time:       time.Now().UTC(),
				})
				return fmt.Errorf("localize ws: %s: %w", id, err)
			}
			return err
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// LocalizeRESTMode refreshes the cached books of every registered exchange
// from REST snapshots, batch by batch.
func (a *App) LocalizeRESTMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting rest localization")

	lcfg := market.DefaultLocalizerConfig()
	if d := a.cfg.Engine.BatchWindow.Duration; d > 0 {
		lcfg.BatchWindow = d
	}
	if n := a.cfg.Engine.MaxBatchErrors; n > 0 {
		lcfg.MaxErrors = n
	}
	localizer := market.NewLocalizer(deps.Access, deps.Registry, lcfg, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range deps.Registry.IDs() {
		g.Go(func() error {
			return localizer.Run(ctx, id, func(ctx context.Context) ([]string, error) {
				return a.pairsFor(ctx, deps, id)
			})
		})
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// SyncCatalogMode mirrors the product catalog of every registered exchange
// and creates missing exchange rows. New exchanges start inactive.
func (a *App) SyncCatalogMode(ctx context.Context, deps *Dependencies) error {
	catalog := market.NewCatalog(deps.Registry, deps.CallCache, a.cfg.Engine.CallCacheTTL.Duration, deps.ProductStore, deps.Converter, a.logger)
	for _, id := range deps.Registry.IDs() {
		if err := a.ensureExchange(ctx, deps, id); err != nil {
			return fmt.Errorf("sync catalog: %w", err)
		}
		if _, err := catalog.Sync(ctx, id); err != nil {
			return fmt.Errorf("sync catalog: %w", err)
		}
	}
	return nil
}

// UpdateConvertsMode refreshes the stable conversion rates from the tickers
// of every registered exchange.
func (a *App) UpdateConvertsMode(ctx context.Context, deps *Dependencies) error {
	for _, id := range deps.Registry.IDs() {
		adapter, err := deps.Registry.Adapter(id)
		if err != nil {
			return fmt.Errorf("update converts: %w", err)
		}
		products, err := deps.ProductStore.ListByExchange(ctx, id)
		if err != nil {
			return fmt.Errorf("update converts: %w", err)
		}
		n, err := deps.Converter.Refresh(ctx, adapter, products)
		if err != nil {
			return fmt.Errorf("update converts: %w", err)
		}
		a.logger.InfoContext(ctx, "conversion rates updated",
			slog.String("exchange", id.String()),
			slog.Int("rates", n),
		)
	}
	return nil
}

// TarbitScanMode scans every active exchange on an interval. Profitable
// estimates are persisted and published; with tarbit.execute set the best
// one of each scan is also handed to the executor.
func (a *App) TarbitScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting tarbit scan",
		slog.Bool("execute", a.cfg.Tarbit.Execute),
		slog.Duration("interval", a.cfg.Tarbit.ScanInterval.Duration),
	)

	estimator := tarbit.NewEstimator(deps.Access, deps.Registry, deps.ProductStore, deps.TarbitStore, a.logger)
	scanner := tarbit.NewScanner(deps.ProductStore, deps.Converter, estimator, deps.Publisher, a.cfg.Tarbit.MinVolume, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	var arbits chan domain.TriangleArbit
	if a.cfg.Tarbit.Execute {
		ocfg := order.DefaultConfig()
		ocfg.PriceFailsafePct = a.cfg.Orders.PriceFailsafePct
		if s := a.cfg.Orders.Schedule(); s != nil {
			ocfg.FillSchedule = s
		}
		manager := order.NewManager(deps.OrderStore, deps.Registry, estimator, ocfg, a.logger)
		exec := executor.NewExecutor(
			deps.ExchangeStore, deps.TarbitStore, manager, deps.Registry, estimator, deps.Publisher,
			executor.Config{
				MinNet:   a.cfg.Tarbit.MinNet,
				Repeat:   a.cfg.Tarbit.Repeat,
				DedupTTL: a.cfg.Tarbit.DedupTTL.Duration,
			},
			a.logger,
		)
		// one pending arbitrage per exchange; later rounds rescan instead
		arbits = make(chan domain.TriangleArbit, max(1, len(deps.Registry.IDs())))
		g.Go(func() error {
			return exec.Run(ctx, arbits)
		})
	}

	g.Go(func() error {
		return runEvery(ctx, a.cfg.Tarbit.ScanInterval.Duration, func(ctx context.Context) error {
			return a.scanActive(ctx, deps, scanner, arbits)
		})
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// scanActive scans each active, registered exchange under its distributed
// scan lock. An exchange held by another process is skipped this round.
func (a *App) scanActive(ctx context.Context, deps *Dependencies, scanner *tarbit.Scanner, out chan<- domain.TriangleArbit) error {
	exchanges, err := deps.ExchangeStore.ListActive(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "list active exchanges failed", slog.String("error", err.Error()))
		return nil
	}
	for _, ex := range exchanges {
		if _, err := deps.Registry.Adapter(ex.ID); err != nil {
			continue
		}
		unlock := func() {}
		if deps.LockManager != nil {
			unlock, err = deps.LockManager.Acquire(ctx, "scan:"+ex.ID.String(), a.cfg.Tarbit.LockTTL.Duration)
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.DebugContext(ctx, "exchange scanned elsewhere, skipping",
					slog.String("exchange", ex.ID.String()),
				)
				continue
			}
			if err != nil {
				a.logger.WarnContext(ctx, "scan lock failed",
					slog.String("exchange", ex.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
		}

		found, err := scanner.Scan(ctx, ex)
		unlock()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.WarnContext(ctx, "scan failed",
				slog.String("exchange", ex.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if out != nil {
			a.offerBest(ctx, out, found)
		}
	}
	return nil
}

// offerBest hands the most profitable estimate of a scan to the executor.
// When the executor is still busy the estimate is dropped; the next round
// estimates against fresher books.
func (a *App) offerBest(ctx context.Context, out chan<- domain.TriangleArbit, found []domain.TriangleArbit) {
	best, ok := tarbit.Best(found)
	if !ok {
		return
	}
	select {
	case out <- best:
	default:
		a.logger.DebugContext(ctx, "executor busy, estimate dropped",
			slog.Int64("arbit_id", best.ID),
			slog.Float64("est_net", best.EstNet),
		)
	}
}

// ExchangeStatsMode logs catalog and tarbit counts of every active exchange.
func (a *App) ExchangeStatsMode(ctx context.Context, deps *Dependencies) error {
	exchanges, err := deps.ExchangeStore.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("exchange stats: %w", err)
	}
	for _, ex := range exchanges {
		products, err := deps.ProductStore.ListByExchange(ctx, ex.ID)
		if err != nil {
			return fmt.Errorf("exchange stats: %w", err)
		}
		online := 0
		for _, p := range products {
			if p.Status == domain.ProductOnline {
				online++
			}
		}
		counts, err := deps.TarbitStore.CountByStatus(ctx, ex.ID)
		if err != nil {
			return fmt.Errorf("exchange stats: %w", err)
		}

		attrs := []any{
			slog.String("exchange", ex.ID.String()),
			slog.Float64("funds", ex.Funds),
			slog.String("funds_currency", ex.FundsCurrency),
			slog.Int("products", len(products)),
			slog.Int("online", online),
		}
		for status, n := range counts {
			attrs = append(attrs, slog.Int64("tarbits_"+status.String(), n))
		}
		a.logger.InfoContext(ctx, "exchange stats", attrs...)
	}
	return nil
}

// ArchiveMode uploads finished tarbits and orders older than the retention
// window to object storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if err := deps.S3.Ping(ctx); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	tarbits, err := deps.Archiver.ArchiveTarbits(ctx, before)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	orders, err := deps.Archiver.ArchiveOrders(ctx, before)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete",
		slog.Time("before", before),
		slog.Int64("tarbits", tarbits),
		slog.Int64("orders", orders),
	)
	return nil
}

// DBMigrateMode applies pending migrations.
func (a *App) DBMigrateMode(ctx context.Context, deps *Dependencies) error {
	applied, err := deps.Postgres.RunMigrations(ctx)
	if err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied", slog.Any("files", applied))
	return nil
}

// CacheFlushMode drops cached calls and books.
func (a *App) CacheFlushMode(ctx context.Context, deps *Dependencies) error {
	if err := deps.CallCache.Flush(ctx); err != nil {
		return fmt.Errorf("cache flush: %w", err)
	}
	a.logger.InfoContext(ctx, "cache flushed")
	return nil
}

// ServerMode serves only the status API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// pairsFor returns the configured pairs of id, or every online product when
// none are configured.
func (a *App) pairsFor(ctx context.Context, deps *Dependencies, id domain.ExchangeID) ([]string, error) {
	if pairs := a.exchangeConfig(id).Pairs; len(pairs) > 0 {
		return pairs, nil
	}
	if deps.ProductStore == nil {
		return nil, nil
	}
	products, err := deps.ProductStore.ListByExchange(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("pairs for %s: %w", id, err)
	}
	var out []string
	for _, p := range products {
		if p.Status == domain.ProductOnline {
			out = append(out, p.Pair())
		}
	}
	return out, nil
}

func (a *App) exchangeConfig(id domain.ExchangeID) config.ExchangeConfig {
	switch id {
	case domain.ExchangeCoinbase:
		return a.cfg.Exchanges.Coinbase
	case domain.ExchangeBinance:
		return a.cfg.Exchanges.Binance
	default:
		return config.ExchangeConfig{}
	}
}

// ensureExchange creates the exchange row on first sync. Funds and the
// active flag are left to the operator.
func (a *App) ensureExchange(ctx context.Context, deps *Dependencies, id domain.ExchangeID) error {
	_, err := deps.ExchangeStore.GetByID(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	localize := domain.LocalizeRestAPI
	if _, err := deps.Registry.Stream(id); err == nil {
		localize = domain.LocalizeWebSocket
	}
	ex := domain.Exchange{
		ID:            id,
		Name:          id.String(),
		FundsCurrency: "USD",
		LocalizeType:  localize,
		Sandbox:       a.exchangeConfig(id).Sandbox,
	}
	if err := deps.ExchangeStore.Upsert(ctx, ex); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "exchange created inactive, set funds and activate it to scan",
		slog.String("exchange", id.String()),
	)
	return nil
}

func (a *App) engineConfig() orderbook.Config {
	e := a.cfg.Engine
	return orderbook.Config{
		Failsafe:     e.QueueFailsafe,
		QueueLimit:   e.QueueLimit,
		IdleWait:     e.IdleWait.Duration,
		UnprimedWait: e.UnprimedWait.Duration,
		OverflowWait: e.OverflowWait.Duration,
		ResyncRetry:  e.ResyncRetry.Duration,
	}
}

// runEvery calls fn immediately and then every interval until ctx ends or
// fn returns an error.
func runEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
