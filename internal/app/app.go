// Package app provides the top-level application lifecycle for tarbot. It
// wires the stores, caches, exchange adapters and engines together and runs
// the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tarbot/internal/config"
	"github.com/alanyoungcy/tarbot/internal/domain"
)

// liveSession is one exchange whose books are synced from a stream.
type liveSession struct {
	stream domain.BookStream
	primed func() int
}

// App is the root application object. It owns the configuration, logger and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	closers   []func()
	startedAt time.Time

	mu   sync.RWMutex
	live map[domain.ExchangeID]liveSession
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now(),
		live:      make(map[domain.ExchangeID]liveSession),
	}
}

// Run wires all dependencies, runs the configured mode and blocks until it
// finishes or ctx is cancelled. One-shot modes return once their work is
// done.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.cfg.Mode = mode
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.Log.Level),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case config.ModeLocalizeWS:
		return a.LocalizeWSMode(ctx, deps)
	case config.ModeLocalizeREST:
		return a.LocalizeRESTMode(ctx, deps)
	case config.ModeSyncCatalog:
		return a.SyncCatalogMode(ctx, deps)
	case config.ModeUpdateConverts:
		return a.UpdateConvertsMode(ctx, deps)
	case config.ModeTarbitScan:
		return a.TarbitScanMode(ctx, deps)
	case config.ModeExchangeStats:
		return a.ExchangeStatsMode(ctx, deps)
	case config.ModeArchive:
		return a.ArchiveMode(ctx, deps)
	case config.ModeDBMigrate:
		return a.DBMigrateMode(ctx, deps)
	case config.ModeCacheFlush:
		return a.CacheFlushMode(ctx, deps)
	case config.ModeServer:
		return a.ServerMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Status implements handler.StatusSource.
func (a *App) Status() domain.EngineStatus {
	st := domain.EngineStatus{
		Mode:          a.cfg.Mode,
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		Streams:       make(map[string]bool),
		PrimedBooks:   make(map[string]int),
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for id, s := range a.live {
		st.Streams[id.String()] = s.stream.Connected()
		st.PrimedBooks[id.String()] = s.primed()
	}
	return st
}

func (a *App) trackLive(id domain.ExchangeID, stream domain.BookStream, primed func() int) {
	a.mu.Lock()
	a.live[id] = liveSession{stream: stream, primed: primed}
	a.mu.Unlock()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
