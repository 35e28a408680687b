package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tarbot/internal/notify"
	"github.com/alanyoungcy/tarbot/internal/server"
	"github.com/alanyoungcy/tarbot/internal/server/handler"
)

// shutdownTimeout bounds the wait for in-flight requests on shutdown.
const shutdownTimeout = 5 * time.Second

// startHTTPServer adds the status API to g. Handlers whose backend is not
// wired in this mode are left out. The server is shut down gracefully when
// ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	checks := make(map[string]handler.Checker)
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Ping
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(checks, a.logger),
		Books:  handler.NewBookHandler(deps.Access, a.logger),
	}
	if deps.TarbitStore != nil {
		handlers.Status = handler.NewStatusHandler(a, deps.TarbitStore, a.logger)
		handlers.Tarbits = handler.NewTarbitHandler(deps.TarbitStore, a.logger)
	}
	if deps.OrderStore != nil {
		handlers.Orders = handler.NewOrderHandler(deps.OrderStore, a.logger)
	}
	if src, ok := deps.EventBus.(handler.EventSource); ok {
		handlers.Events = handler.NewEventsHandler(src, notify.TarbitStream, server.OriginAllowed(a.cfg.Server.CORSOrigins), a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		RatePerSecond: a.cfg.Server.RatePerSecond,
		RateBurst:     a.cfg.Server.RateBurst,
	}, handlers, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
