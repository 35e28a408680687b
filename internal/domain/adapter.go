package domain

import (
	"context"
	"time"
)

// AdapterTweaks carries per-exchange constants that the core needs but that
// only the adapter knows.
type AdapterTweaks struct {
	MarketDepthLevels int           // levels requested on REST book snapshots
	NewOrderQueryWait time.Duration // delay before a fresh order can be queried
	OrderbookBatch    int           // pairs per REST localization batch
	APISlippage       float64       // subtracted from estimated net fill size on buys
	TakerFeeRate      float64
	MakerFeeRate      float64
}

// ExchangeAdapter is the capability contract every exchange implementation
// satisfies. The core never sees wire formats.
type ExchangeAdapter interface {
	ID() ExchangeID
	GetAccounts(ctx context.Context) ([]Account, error)
	GetOrderByID(ctx context.Context, extID, pair string) (ExchangeOrder, error)
	GetAllOrders(ctx context.Context) ([]ExchangeOrder, error)
	GetOrderbook(ctx context.Context, pair string) (Orderbook, error)
	GetProductTicker(ctx context.Context, pair string) (Ticker, error)
	GetAllProducts(ctx context.Context) ([]Product, error)
	LimitOrder(ctx context.Context, t OrderType, localID, pair string, size, price float64) (ExchangeOrder, error)
	CancelOrder(ctx context.Context, extID, pair string) error
	TakerFee(t OrderType, pair string, size, price float64) float64
	WithdrawalFee(size float64) float64
	ToLocalPair(pair string) string
	ToCanonicalPair(local string) string
	Tweaks() AdapterTweaks
}

// BookStream delivers diff streams for a set of pairs into a sink. Run blocks
// until ctx is cancelled or the reconnect budget is exhausted.
type BookStream interface {
	ExchangeID() ExchangeID
	Policy() SequencePolicy
	Run(ctx context.Context, pairs []string, sink BookSink) error
	// Resync requests a fresh snapshot for pair; it arrives through the sink.
	Resync(ctx context.Context, pair string) error
	Connected() bool
}

// RateLimiter admits outbound calls. Admit only ever delays; it returns an
// error only when ctx ends first.
type RateLimiter interface {
	Admit(ctx context.Context, token string) error
}
