// Package testutil provides in-memory fakes of the domain interfaces for
// package tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// PlacedOrder records one LimitOrder call.
type PlacedOrder struct {
	Type    domain.OrderType
	LocalID string
	Pair    string
	Size    float64
	Price   float64
}

// Adapter is a scriptable domain.ExchangeAdapter.
type Adapter struct {
	mu sync.Mutex

	ExchangeID domain.ExchangeID
	FeeRate    float64
	Tweak      domain.AdapterTweaks

	Books    map[string]domain.Orderbook
	Tickers  map[string]domain.Ticker
	Products []domain.Product
	Accounts []domain.Account

	// PlaceStatus decides the status of a new order by pair. Missing pairs
	// fill immediately.
	PlaceStatus map[string]domain.OrderStatus
	// PlaceErr fails LimitOrder for a pair.
	PlaceErr map[string]error
	// QueryStatus is returned by GetOrderByID in order, the last value
	// repeating. Empty keeps the placed status.
	QueryStatus []domain.OrderStatus

	Placed     []PlacedOrder
	BookCalls  int
	QueryCalls int

	orders map[string]domain.ExchangeOrder
	seq    int
}

// NewAdapter creates an adapter with an empty market.
func NewAdapter(id domain.ExchangeID) *Adapter {
	return &Adapter{
		ExchangeID:  id,
		Books:       make(map[string]domain.Orderbook),
		Tickers:     make(map[string]domain.Ticker),
		PlaceStatus: make(map[string]domain.OrderStatus),
		PlaceErr:    make(map[string]error),
		orders:      make(map[string]domain.ExchangeOrder),
	}
}

// SetBook installs a book for pair.
func (a *Adapter) SetBook(pair string, asks, bids []domain.Level) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := domain.Orderbook{ExchangeID: a.ExchangeID, Pair: pair, Asks: asks, Bids: bids, Primed: true}
	b.SortLevels()
	a.Books[pair] = b
}

func (a *Adapter) ID() domain.ExchangeID { return a.ExchangeID }

func (a *Adapter) GetAccounts(context.Context) ([]domain.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Account(nil), a.Accounts...), nil
}

func (a *Adapter) GetOrderByID(_ context.Context, extID, _ string) (domain.ExchangeOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[extID]
	if !ok {
		return domain.ExchangeOrder{}, domain.ErrNotFound
	}
	if n := len(a.QueryStatus); n > 0 {
		i := a.QueryCalls
		if i >= n {
			i = n - 1
		}
		o.Status = a.QueryStatus[i]
		if o.Status.IsFilled() {
			o.FilledSize = o.Size
			o.FillFees = a.TakerFee(typeForSide(o.Side), o.Pair, o.Size, o.Price)
		}
		a.orders[extID] = o
	}
	a.QueryCalls++
	return o, nil
}

func (a *Adapter) GetAllOrders(context.Context) ([]domain.ExchangeOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.ExchangeOrder, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, o)
	}
	return out, nil
}

func (a *Adapter) GetOrderbook(_ context.Context, pair string) (domain.Orderbook, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.BookCalls++
	b, ok := a.Books[pair]
	if !ok {
		return domain.Orderbook{}, fmt.Errorf("fake: no book for %s: %w", pair, domain.ErrNotFound)
	}
	b.Asks = append([]domain.Level(nil), b.Asks...)
	b.Bids = append([]domain.Level(nil), b.Bids...)
	return b, nil
}

func (a *Adapter) GetProductTicker(_ context.Context, pair string) (domain.Ticker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.Tickers[pair]
	if !ok {
		return domain.Ticker{}, domain.ErrNotFound
	}
	return t, nil
}

func (a *Adapter) GetAllProducts(context.Context) ([]domain.Product, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Product(nil), a.Products...), nil
}

func (a *Adapter) LimitOrder(_ context.Context, t domain.OrderType, localID, pair string, size, price float64) (domain.ExchangeOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Placed = append(a.Placed, PlacedOrder{Type: t, LocalID: localID, Pair: pair, Size: size, Price: price})
	if err := a.PlaceErr[pair]; err != nil {
		return domain.ExchangeOrder{}, err
	}

	status, ok := a.PlaceStatus[pair]
	if !ok {
		status = domain.OrderFilled
	}
	a.seq++
	side := "sell"
	if t.IsBuy() {
		side = "buy"
	}
	o := domain.ExchangeOrder{
		ID:        fmt.Sprintf("ext-%d", a.seq),
		Pair:      pair,
		Side:      side,
		Price:     price,
		Size:      size,
		Status:    status,
		CreatedAt: time.Now(),
	}
	if status.IsFilled() {
		o.FilledSize = size
		o.FillFees = a.TakerFee(t, pair, size, price)
		now := time.Now()
		o.DoneAt = &now
	}
	a.orders[o.ID] = o
	return o, nil
}

func (a *Adapter) CancelOrder(_ context.Context, extID, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[extID]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = domain.OrderClosed
	a.orders[extID] = o
	return nil
}

func (a *Adapter) TakerFee(t domain.OrderType, _ string, size, price float64) float64 {
	if t.IsBuy() {
		return size * a.FeeRate
	}
	return size * price * a.FeeRate
}

func (a *Adapter) WithdrawalFee(float64) float64 { return 0 }

func (a *Adapter) ToLocalPair(pair string) string { return strings.ReplaceAll(pair, "-", "_") }

func (a *Adapter) ToCanonicalPair(local string) string { return strings.ReplaceAll(local, "_", "-") }

func (a *Adapter) Tweaks() domain.AdapterTweaks { return a.Tweak }

// PlacedOrders returns a copy of every LimitOrder call.
func (a *Adapter) PlacedOrders() []PlacedOrder {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]PlacedOrder(nil), a.Placed...)
}

func typeForSide(side string) domain.OrderType {
	if side == "buy" {
		return domain.OrderLimitBuy
	}
	return domain.OrderLimitSell
}

// Registry resolves adapters by exchange id.
type Registry map[domain.ExchangeID]domain.ExchangeAdapter

// Adapter implements market.AdapterLookup.
func (r Registry) Adapter(id domain.ExchangeID) (domain.ExchangeAdapter, error) {
	a, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("fake registry %s: %w", id, domain.ErrAdapterNotFound)
	}
	return a, nil
}

var _ domain.ExchangeAdapter = (*Adapter)(nil)
