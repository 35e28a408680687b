package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExchangeStore persists exchanges and their trade lock.
type ExchangeStore interface {
	GetByID(ctx context.Context, id ExchangeID) (Exchange, error)
	ListActive(ctx context.Context) ([]Exchange, error)
	Upsert(ctx context.Context, ex Exchange) error
	// AcquireLock moves the lock from Unlocked to lock. It returns
	// ErrExchangeLocked when another holder already owns it.
	AcquireLock(ctx context.Context, id ExchangeID, lock ExchangeLock) error
	// ReleaseLock clears a held lock. It returns ErrNotFound when the
	// exchange was not locked.
	ReleaseLock(ctx context.Context, id ExchangeID) error
}

// ProductStore persists exchange product catalogs.
type ProductStore interface {
	Upsert(ctx context.Context, p Product) (Product, error)
	GetByPair(ctx context.Context, exchangeID ExchangeID, pair string) (Product, error)
	ListByExchange(ctx context.Context, exchangeID ExchangeID) ([]Product, error)
	SetStatus(ctx context.Context, id int64, status ProductStatus) error
	UpdateStableVolume(ctx context.Context, id int64, volume float64) error
	IncrementInsufficientFills(ctx context.Context, id int64) error
}

// OrderStore persists local orders.
type OrderStore interface {
	Create(ctx context.Context, o Order) (Order, error)
	GetByID(ctx context.Context, id int64) (Order, error)
	Update(ctx context.Context, o Order) error
	// Lock moves the order from Unlocked to lock, ErrOrderLocked otherwise.
	Lock(ctx context.Context, id int64, lock OrderLock) error
	// Unlock clears any held order lock.
	Unlock(ctx context.Context, id int64) error
	ListBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// TarbitStore persists triangle arbitrage estimates and executions.
type TarbitStore interface {
	Create(ctx context.Context, a TriangleArbit) (TriangleArbit, error)
	GetByID(ctx context.Context, id int64) (TriangleArbit, error)
	UpdateStatus(ctx context.Context, id int64, status ArbitStatus) error
	SetOrderID(ctx context.Context, id int64, leg int, orderID int64) error
	SetNet(ctx context.Context, id int64, net float64) error
	ListRecent(ctx context.Context, exchangeID ExchangeID, limit int) ([]TriangleArbit, error)
	ListFinishedBefore(ctx context.Context, before time.Time) ([]TriangleArbit, error)
	CountByStatus(ctx context.Context, exchangeID ExchangeID) (map[ArbitStatus]int64, error)
}

// ConvertStore persists stable conversion rates.
type ConvertStore interface {
	Upsert(ctx context.Context, c CurrencyConvert) error
	FindByBase(ctx context.Context, bases []string) ([]CurrencyConvert, error)
}
