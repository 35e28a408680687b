package orderbook

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Persister periodically writes every primed book of an engine into the
// shared cache so other processes and the REST fallback can read it.
type Persister struct {
	engine    *Engine
	cache     domain.BookCache
	interval  time.Duration
	ttl       time.Duration
	connected func() bool
	logger    *slog.Logger
}

// NewPersister creates a Persister. connected gates writes so a dead stream
// never refreshes stale books.
func NewPersister(engine *Engine, cache domain.BookCache, interval, ttl time.Duration, connected func() bool, logger *slog.Logger) *Persister {
	if connected == nil {
		connected = func() bool { return true }
	}
	return &Persister{
		engine:    engine,
		cache:     cache,
		interval:  interval,
		ttl:       ttl,
		connected: connected,
		logger:    logger.With(slog.String("component", "book_persister")),
	}
}

// Run writes books every interval until ctx is cancelled.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.persistAll(ctx)
		}
	}
}

// persistAll writes each primed book once and returns how many were stored.
func (p *Persister) persistAll(ctx context.Context) int {
	if !p.connected() {
		return 0
	}
	stored := 0
	for _, pair := range p.engine.Pairs() {
		book, ok := p.engine.Book(pair)
		if !ok || !book.Primed() {
			continue
		}
		if err := p.cache.SetBook(ctx, book.Snapshot(), p.ttl); err != nil {
			p.logger.WarnContext(ctx, "cache book failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
			continue
		}
		stored++
	}
	return stored
}
