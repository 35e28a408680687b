// Package orderbook maintains live per-pair books from exchange diff streams.
// Each pair owns a Book, a Queue of pending diffs and a Reconciler goroutine
// that drains the queue in sequence order.
package orderbook

import (
	"sync"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Book is the live state of one (exchange, pair). The reconciler is the only
// writer of levels; readers take Snapshot copies.
type Book struct {
	mu         sync.RWMutex
	exchangeID domain.ExchangeID
	pair       string
	productID  int64
	sequence   int64
	timestamp  int64
	asks       map[float64]float64
	bids       map[float64]float64
	primed     bool
	dequeueing bool
	updatedAt  time.Time
}

// NewBook returns an empty, unprimed book.
func NewBook(exchangeID domain.ExchangeID, pair string) *Book {
	return &Book{
		exchangeID: exchangeID,
		pair:       pair,
		asks:       make(map[float64]float64),
		bids:       make(map[float64]float64),
	}
}

// Pair returns the canonical pair of the book.
func (b *Book) Pair() string { return b.pair }

// Prime replaces the book wholesale with snap and marks it primed.
func (b *Book) Prime(snap domain.Orderbook) {
	asks := make(map[float64]float64, len(snap.Asks))
	for _, l := range snap.Asks {
		if l.Size > 0 {
			asks[l.Price] = l.Size
		}
	}
	bids := make(map[float64]float64, len(snap.Bids))
	for _, l := range snap.Bids {
		if l.Size > 0 {
			bids[l.Price] = l.Size
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.asks = asks
	b.bids = bids
	b.sequence = snap.Sequence
	b.timestamp = snap.Timestamp
	if snap.ProductID != 0 {
		b.productID = snap.ProductID
	}
	b.primed = true
	b.updatedAt = time.Now()
}

// Reset clears all levels and marks the book unprimed.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.asks = make(map[float64]float64)
	b.bids = make(map[float64]float64)
	b.sequence = 0
	b.timestamp = 0
	b.primed = false
	b.dequeueing = false
}

// State returns the fields a sequence policy inspects.
func (b *Book) State() domain.BookState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return domain.BookState{Sequence: b.sequence, Timestamp: b.timestamp}
}

// Primed reports whether an initial snapshot has been applied.
func (b *Book) Primed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.primed
}

// Dequeueing reports whether the reconciler is actively draining diffs.
func (b *Book) Dequeueing() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dequeueing
}

// Live reports whether the book is primed and being kept current.
func (b *Book) Live() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.primed && b.dequeueing
}

func (b *Book) setDequeueing(v bool) {
	b.mu.Lock()
	b.dequeueing = v
	b.mu.Unlock()
}

// apply writes one validated diff. It reports false when the diff asked to
// remove a level that does not exist.
func (b *Book) apply(u domain.LevelUpdate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sequence = u.Sequence
	b.updatedAt = time.Now()
	if u.Price == 0 {
		return true
	}

	side := b.bids
	if u.Side == domain.SideAsk {
		side = b.asks
	}
	if u.Size <= 0 {
		if _, ok := side[u.Price]; !ok {
			return false
		}
		delete(side, u.Price)
		return true
	}
	side[u.Price] = u.Size
	return true
}

// Snapshot returns a sorted deep copy of the book.
func (b *Book) Snapshot() domain.Orderbook {
	b.mu.RLock()
	snap := domain.Orderbook{
		ExchangeID: b.exchangeID,
		Pair:       b.pair,
		ProductID:  b.productID,
		Sequence:   b.sequence,
		Timestamp:  b.timestamp,
		Primed:     b.primed,
		Asks:       make([]domain.Level, 0, len(b.asks)),
		Bids:       make([]domain.Level, 0, len(b.bids)),
		FetchedAt:  b.updatedAt,
	}
	for p, s := range b.asks {
		snap.Asks = append(snap.Asks, domain.Level{Price: p, Size: s})
	}
	for p, s := range b.bids {
		snap.Bids = append(snap.Bids, domain.Level{Price: p, Size: s})
	}
	b.mu.RUnlock()

	snap.SortLevels()
	return snap
}
