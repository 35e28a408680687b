// Package server exposes the read-only status API: health, engine status,
// tarbit statistics, live books and persisted tarbits and orders.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/tarbot/internal/server/handler"
	"github.com/alanyoungcy/tarbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RatePerSecond limits requests per client IP. Zero disables it.
	RatePerSecond float64
	RateBurst     int
}

// Handlers aggregates the route handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Books   *handler.BookHandler
	Tarbits *handler.TarbitHandler
	Orders  *handler.OrderHandler
	Events  *handler.EventsHandler
}

// Server is the status API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and wraps them in CORS, logging, rate
// limit and auth middleware.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
		mux.HandleFunc("GET /api/stats", handlers.Status.GetStats)
	}
	if handlers.Books != nil {
		mux.HandleFunc("GET /api/books/{exchange}/{pair}", handlers.Books.GetBook)
	}
	if handlers.Tarbits != nil {
		mux.HandleFunc("GET /api/tarbits/recent", handlers.Tarbits.ListRecent)
		mux.HandleFunc("GET /api/tarbits/{id}", handlers.Tarbits.GetTarbit)
	}
	if handlers.Orders != nil {
		mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.Replay)
		mux.HandleFunc("GET /api/events/live", handlers.Events.Live)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(cfg.RatePerSecond, cfg.RateBurst)(h)
	h = middleware.Logging(logger, "/api/health")(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware allows the listed origins, or every origin when none are
// listed.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && OriginAllowed(allowedOrigins)(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed matches browser origins against allowed. An empty list or
// "*" allows all.
func OriginAllowed(allowed []string) func(origin string) bool {
	return func(origin string) bool {
		if len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
