// Package order places limit orders at an exchange and follows them until
// they fill, close or the fill wait runs out.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// DefaultFillSchedule is the pause before each fill check of a freshly
// placed order.
var DefaultFillSchedule = []time.Duration{
	2 * time.Second, 5 * time.Second, 10 * time.Second, 10 * time.Second, 15 * time.Second,
	30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	30 * time.Second, 30 * time.Second, 30 * time.Second,
}

// Config tunes the Manager.
type Config struct {
	// PriceFailsafePct refuses orders priced further than this from the mid
	// price, in percent.
	PriceFailsafePct float64
	FillSchedule     []time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		PriceFailsafePct: 1.5,
		FillSchedule:     DefaultFillSchedule,
	}
}

// QuickFiller prices an immediate order from the current book.
// *tarbit.Estimator satisfies it.
type QuickFiller interface {
	QuickFill(ctx context.Context, id domain.ExchangeID, pair string, t domain.OrderType, amount float64) (domain.QuickFill, error)
}

// AdapterLookup resolves the adapter for an exchange.
type AdapterLookup interface {
	Adapter(id domain.ExchangeID) (domain.ExchangeAdapter, error)
}

// Manager owns the lifecycle of local orders.
type Manager struct {
	orders   domain.OrderStore
	adapters AdapterLookup
	fills    QuickFiller
	cfg      Config
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager.
func NewManager(orders domain.OrderStore, adapters AdapterLookup, fills QuickFiller, cfg Config, logger *slog.Logger) *Manager {
	if cfg.PriceFailsafePct <= 0 {
		cfg.PriceFailsafePct = DefaultConfig().PriceFailsafePct
	}
	if len(cfg.FillSchedule) == 0 {
		cfg.FillSchedule = DefaultFillSchedule
	}
	return &Manager{
		orders:   orders,
		adapters: adapters,
		fills:    fills,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "order_manager")),
		sleep:    sleepCtx,
	}
}

func validate(req domain.LimitOrderRequest) error {
	if req.Pair == "" {
		return fmt.Errorf("order: missing pair: %w", domain.ErrInvalidOrder)
	}
	switch req.Type {
	case domain.OrderLimitBuy:
		if req.Funds <= 0 {
			return fmt.Errorf("order: buy %s needs funds: %w", req.Pair, domain.ErrInvalidOrder)
		}
	case domain.OrderLimitSell:
		if req.Size <= 0 {
			return fmt.Errorf("order: sell %s needs a size: %w", req.Pair, domain.ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("order: unsupported type %s: %w", req.Type, domain.ErrInvalidOrder)
	}
	return nil
}

// LimitOrder prices req from the book, records it locally, submits it and
// waits for it to fill. The returned order is the last known local state,
// also when an error is returned after the row was created:
//   - submission failure leaves the row Created and unlocked;
//   - a closed, unfilled order returns ErrNotFilled;
//   - an order still open after the fill schedule returns ErrFillTimeout.
func (m *Manager) LimitOrder(ctx context.Context, req domain.LimitOrderRequest) (domain.Order, error) {
	if err := validate(req); err != nil {
		return domain.Order{}, err
	}
	adapter, err := m.adapters.Adapter(req.ExchangeID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order: limit order: %w", err)
	}

	amount := req.Size
	if req.Type.IsBuy() {
		amount = req.Funds
	}
	qf, err := m.fills.QuickFill(ctx, req.ExchangeID, req.Pair, req.Type, amount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order: price %s: %w", req.Pair, err)
	}
	price := qf.BestPrice
	if qf.MarketPrice > 0 {
		dev := math.Abs(price-qf.MarketPrice) / qf.MarketPrice * 100
		if dev > m.cfg.PriceFailsafePct {
			return domain.Order{}, fmt.Errorf("order: %s price %.8f is %.2f%% from market %.8f: %w",
				req.Pair, price, dev, qf.MarketPrice, domain.ErrPriceDeviation)
		}
	}

	size := req.Size
	if req.Type.IsBuy() {
		size = req.Funds / price
	}

	o, err := m.orders.Create(ctx, domain.Order{
		ExchangeID: req.ExchangeID,
		UUID:       uuid.NewString(),
		ParentID:   req.ParentID,
		Type:       req.Type,
		Pair:       req.Pair,
		Size:       size,
		Price:      price,
		Status:     domain.OrderCreated,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("order: create %s: %w", req.Pair, err)
	}
	log := m.logger.With(
		slog.Int64("order_id", o.ID),
		slog.String("pair", o.Pair),
		slog.String("type", o.Type.String()),
	)

	if err := m.orders.Lock(ctx, o.ID, domain.OrderLockCreateLimit); err != nil {
		return o, fmt.Errorf("order: lock %d: %w", o.ID, err)
	}
	ex, err := adapter.LimitOrder(ctx, o.Type, o.UUID, o.Pair, o.Size, o.Price)
	if uerr := m.orders.Unlock(ctx, o.ID); uerr != nil {
		log.ErrorContext(ctx, "unlock order failed", slog.String("error", uerr.Error()))
	}
	if err != nil {
		log.WarnContext(ctx, "limit order rejected", slog.String("error", err.Error()))
		return o, fmt.Errorf("order: submit %d: %w", o.ID, err)
	}

	apply(&o, ex)
	if err := m.orders.Update(ctx, o); err != nil {
		return o, fmt.Errorf("order: update %d: %w", o.ID, err)
	}
	log.InfoContext(ctx, "limit order placed",
		slog.String("ext_id", o.ExtID),
		slog.Float64("size", o.Size),
		slog.Float64("price", o.Price),
		slog.Int("status", int(o.Status)),
	)

	return m.waitFill(ctx, o, adapter.Tweaks().NewOrderQueryWait)
}

func (m *Manager) waitFill(ctx context.Context, o domain.Order, queryWait time.Duration) (domain.Order, error) {
	for i, step := range m.cfg.FillSchedule {
		switch o.Status.Class() {
		case domain.ClassFilled:
			return o, nil
		case domain.ClassClosedUnfilled:
			return o, fmt.Errorf("order: %d closed with status %d: %w", o.ID, o.Status, domain.ErrNotFilled)
		}

		if i == 0 && queryWait > step {
			step = queryWait
		}
		if err := m.sleep(ctx, step); err != nil {
			return o, err
		}
		synced, err := m.SyncOrderByID(ctx, o.ID)
		if err != nil {
			m.logger.WarnContext(ctx, "order sync failed",
				slog.Int64("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		o = synced
	}

	switch o.Status.Class() {
	case domain.ClassFilled:
		return o, nil
	case domain.ClassClosedUnfilled:
		return o, fmt.Errorf("order: %d closed with status %d: %w", o.ID, o.Status, domain.ErrNotFilled)
	}
	m.logger.WarnContext(ctx, "order still open after fill wait",
		slog.Int64("order_id", o.ID),
		slog.String("ext_id", o.ExtID),
	)
	return o, fmt.Errorf("order: %d: %w", o.ID, domain.ErrFillTimeout)
}

// SyncOrderByID refreshes a local order from the exchange. The order must
// already carry the exchange's id.
func (m *Manager) SyncOrderByID(ctx context.Context, id int64) (domain.Order, error) {
	o, err := m.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order: sync %d: %w", id, err)
	}
	if o.ExtID == "" {
		return o, fmt.Errorf("order: sync %d: no exchange id: %w", id, domain.ErrInvalidState)
	}
	adapter, err := m.adapters.Adapter(o.ExchangeID)
	if err != nil {
		return o, fmt.Errorf("order: sync %d: %w", id, err)
	}
	ex, err := adapter.GetOrderByID(ctx, o.ExtID, o.Pair)
	if err != nil {
		return o, fmt.Errorf("order: sync %d: %w", id, err)
	}
	apply(&o, ex)
	if err := m.orders.Update(ctx, o); err != nil {
		return o, fmt.Errorf("order: sync %d: %w", id, err)
	}
	return o, nil
}

// Cancel cancels an open order at the exchange and syncs the result.
func (m *Manager) Cancel(ctx context.Context, id int64) (domain.Order, error) {
	o, err := m.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order: cancel %d: %w", id, err)
	}
	if !o.Status.IsOpen() || o.ExtID == "" {
		return o, fmt.Errorf("order: cancel %d in status %d: %w", id, o.Status, domain.ErrInvalidState)
	}
	adapter, err := m.adapters.Adapter(o.ExchangeID)
	if err != nil {
		return o, fmt.Errorf("order: cancel %d: %w", id, err)
	}

	if err := m.orders.Lock(ctx, id, domain.OrderLockCancel); err != nil {
		return o, fmt.Errorf("order: cancel %d: %w", id, err)
	}
	err = adapter.CancelOrder(ctx, o.ExtID, o.Pair)
	if uerr := m.orders.Unlock(ctx, id); uerr != nil {
		m.logger.ErrorContext(ctx, "unlock order failed",
			slog.Int64("order_id", id),
			slog.String("error", uerr.Error()),
		)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return o, fmt.Errorf("order: cancel %d: %w", id, err)
	}
	return m.SyncOrderByID(ctx, id)
}

// apply copies the exchange's view of an order onto the local record.
func apply(o *domain.Order, ex domain.ExchangeOrder) {
	if ex.ID != "" {
		o.ExtID = ex.ID
	}
	o.Status = ex.Status

	if o.OpenDate == nil && !ex.CreatedAt.IsZero() {
		opened := ex.CreatedAt
		o.OpenDate = &opened
		o.OpenPrice = ex.Price
	}
	if ex.Status.IsFilled() {
		if ex.FilledSize > 0 {
			o.Size = ex.FilledSize
		}
		o.FillPrice = ex.Price
		o.FillFee = ex.FillFees
		filled := time.Now().UTC()
		if ex.DoneAt != nil {
			filled = *ex.DoneAt
		}
		o.FillDate = &filled
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
