// Package market is the single read path for orderbooks and memoized exchange
// calls. It prefers live websocket books, then the shared cache, and only
// then spends rate-limited REST calls.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// LiveSource exposes the books an orderbook engine keeps current.
// *orderbook.Engine satisfies it.
type LiveSource interface {
	ExchangeID() domain.ExchangeID
	Live(pair string) (domain.Orderbook, bool)
}

// AdapterLookup resolves the REST adapter of an exchange.
type AdapterLookup interface {
	Adapter(id domain.ExchangeID) (domain.ExchangeAdapter, error)
}

// LimiterLookup hands out the rate limiter of an exchange.
// *ratelimit.Set satisfies it.
type LimiterLookup interface {
	For(id domain.ExchangeID) domain.RateLimiter
}

// Access implements the live, cache, REST fallback chain for books.
type Access struct {
	adapters AdapterLookup
	limiters LimiterLookup
	books    domain.BookCache
	restTTL  time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	live map[domain.ExchangeID]LiveSource
}

// NewAccess creates an Access. restTTL is how long a REST-fetched book stays
// in the cache.
func NewAccess(adapters AdapterLookup, limiters LimiterLookup, books domain.BookCache, restTTL time.Duration, logger *slog.Logger) *Access {
	return &Access{
		adapters: adapters,
		limiters: limiters,
		books:    books,
		restTTL:  restTTL,
		logger:   logger.With(slog.String("component", "market_access")),
		live:     make(map[domain.ExchangeID]LiveSource),
	}
}

// AttachLive registers the live books of one exchange.
func (a *Access) AttachLive(src LiveSource) {
	a.mu.Lock()
	a.live[src.ExchangeID()] = src
	a.mu.Unlock()
}

// GetBook returns the freshest available book for pair.
func (a *Access) GetBook(ctx context.Context, id domain.ExchangeID, pair string) (domain.Orderbook, error) {
	a.mu.RLock()
	src := a.live[id]
	a.mu.RUnlock()
	if src != nil {
		if book, ok := src.Live(pair); ok {
			return book, nil
		}
	}

	if a.books != nil {
		book, err := a.books.GetBook(ctx, id, pair)
		if err == nil {
			return book, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "cached book lookup failed",
				slog.String("exchange", id.String()),
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
		}
	}

	return a.FetchBook(ctx, id, pair)
}

// FetchBook always calls the REST API, then caches the result.
func (a *Access) FetchBook(ctx context.Context, id domain.ExchangeID, pair string) (domain.Orderbook, error) {
	adapter, err := a.adapters.Adapter(id)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("market: fetch book %s: %w", pair, err)
	}
	if a.limiters != nil {
		if err := a.limiters.For(id).Admit(ctx, "orderbook:"+pair); err != nil {
			return domain.Orderbook{}, fmt.Errorf("market: fetch book %s: %w", pair, err)
		}
	}

	book, err := adapter.GetOrderbook(ctx, pair)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("market: fetch book %s: %w", pair, err)
	}
	book.ExchangeID = id
	book.Pair = pair
	book.SortLevels()
	if book.FetchedAt.IsZero() {
		book.FetchedAt = time.Now()
	}

	if a.books != nil {
		if err := a.books.SetBook(ctx, book, a.restTTL); err != nil {
			a.logger.WarnContext(ctx, "cache rest book failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
		}
	}
	return book, nil
}
