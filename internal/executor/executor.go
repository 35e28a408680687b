// Package executor runs persisted triangle arbitrages leg by leg while
// holding the exchange's trade lock.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/tarbit"
)

// DefaultMinNet is the smallest estimated net an arbitrage must carry to be
// executed.
const DefaultMinNet = 0.1

// OrderPlacer places a limit order and waits for its fill. *order.Manager
// satisfies it.
type OrderPlacer interface {
	LimitOrder(ctx context.Context, req domain.LimitOrderRequest) (domain.Order, error)
}

// Estimator re-estimates a triangle for a repeat run. *tarbit.Estimator
// satisfies it.
type Estimator interface {
	Estimate(ctx context.Context, set domain.TriangleSet, baseSize float64) (domain.TriangleEstimate, error)
}

// AdapterLookup resolves the adapter of an exchange.
type AdapterLookup interface {
	Adapter(id domain.ExchangeID) (domain.ExchangeAdapter, error)
}

// Config tunes the Executor.
type Config struct {
	MinNet   float64
	Repeat   bool
	DedupTTL time.Duration
}

// Executor drives Created arbitrages through their three legs.
type Executor struct {
	exchanges domain.ExchangeStore
	tarbits   domain.TarbitStore
	orders    OrderPlacer
	adapters  AdapterLookup
	estimator Estimator
	events    domain.EventPublisher
	dedup     *Dedup
	cfg       Config
	logger    *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor. estimator may be nil when repeats are
// disabled; events may be nil.
func NewExecutor(
	exchanges domain.ExchangeStore,
	tarbits domain.TarbitStore,
	orders OrderPlacer,
	adapters AdapterLookup,
	estimator Estimator,
	events domain.EventPublisher,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.MinNet <= 0 {
		cfg.MinNet = DefaultMinNet
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	return &Executor{
		exchanges:       exchanges,
		tarbits:         tarbits,
		orders:          orders,
		adapters:        adapters,
		estimator:       estimator,
		events:          events,
		dedup:           NewDedup(cfg.DedupTTL),
		cfg:             cfg,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// Execute runs the arbitrage arbitID. With repeat set, a completed run is
// re-estimated on the same triangle and executed again as a child for as
// long as the fresh estimate clears MinNet. The last executed arbitrage is
// returned.
func (e *Executor) Execute(ctx context.Context, arbitID int64, repeat bool) (domain.TriangleArbit, error) {
	for {
		arb, err := e.executeOnce(ctx, arbitID)
		if err != nil || !repeat || e.estimator == nil {
			return arb, err
		}

		child, ok := e.repeatChild(ctx, arb)
		if !ok {
			return arb, nil
		}
		e.logger.InfoContext(ctx, "repeating triangle",
			slog.Int64("parent_id", arb.ID),
			slog.Int64("arbit_id", child.ID),
			slog.Float64("est_net", child.EstNet),
		)
		arbitID = child.ID
	}
}

// repeatChild persists a child of the completed run arb when the triangle
// still clears MinNet. Nothing is stored otherwise.
func (e *Executor) repeatChild(ctx context.Context, arb domain.TriangleArbit) (domain.TriangleArbit, bool) {
	log := e.logger.With(slog.Int64("parent_id", arb.ID))
	est, err := e.estimator.Estimate(ctx, tarbit.SetFromArbit(arb), arb.EstBaseSize)
	if err != nil {
		if !tarbit.IsExpected(err) {
			log.WarnContext(ctx, "repeat estimate failed", slog.String("error", err.Error()))
		}
		return domain.TriangleArbit{}, false
	}
	if est.Net < e.cfg.MinNet {
		log.DebugContext(ctx, "repeat below minimum net",
			slog.Float64("est_net", est.Net),
			slog.Float64("min_net", e.cfg.MinNet),
		)
		return domain.TriangleArbit{}, false
	}
	child, err := e.tarbits.Create(ctx, domain.NewTriangleArbit(est, arb.ID))
	if err != nil {
		log.ErrorContext(ctx, "store repeat estimate failed", slog.String("error", err.Error()))
		return domain.TriangleArbit{}, false
	}
	return child, true
}

func (e *Executor) executeOnce(ctx context.Context, arbitID int64) (domain.TriangleArbit, error) {
	arb, err := e.tarbits.GetByID(ctx, arbitID)
	if err != nil {
		return domain.TriangleArbit{}, fmt.Errorf("executor: load %d: %w", arbitID, err)
	}
	if arb.Status != domain.ArbitCreated {
		return arb, fmt.Errorf("executor: arbit %d is %s: %w", arb.ID, arb.Status, domain.ErrInvalidState)
	}
	if arb.EstNet < e.cfg.MinNet {
		return arb, fmt.Errorf("executor: arbit %d net %.8f under %.8f: %w", arb.ID, arb.EstNet, e.cfg.MinNet, domain.ErrBelowThreshold)
	}
	adapter, err := e.adapters.Adapter(arb.ExchangeID)
	if err != nil {
		return arb, fmt.Errorf("executor: arbit %d: %w", arb.ID, err)
	}

	if err := e.exchanges.AcquireLock(ctx, arb.ExchangeID, domain.ExchangeLockTarbit); err != nil {
		return arb, fmt.Errorf("executor: arbit %d: %w", arb.ID, err)
	}
	defer func() {
		// release even when ctx is already done
		if err := e.exchanges.ReleaseLock(context.WithoutCancel(ctx), arb.ExchangeID); err != nil {
			e.logger.ErrorContext(ctx, "release exchange lock failed",
				slog.String("exchange", arb.ExchangeID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()

	log := e.logger.With(
		slog.Int64("arbit_id", arb.ID),
		slog.String("exchange", arb.ExchangeID.String()),
	)
	if err := e.setStatus(ctx, &arb, domain.ArbitActive); err != nil {
		return arb, err
	}
	log.InfoContext(ctx, "executing triangle",
		slog.String("pair1", arb.Pair1),
		slog.String("pair2", arb.Pair2),
		slog.String("pair3", arb.Pair3),
		slog.Float64("base_size", arb.EstBaseSize),
		slog.Float64("est_net", arb.EstNet),
	)

	slippage := adapter.Tweaks().APISlippage
	legs := [3]struct {
		typ  domain.OrderType
		pair string
	}{
		{domain.OrderLimitBuy, arb.Pair1},
		{domain.OrderLimitBuy, arb.Pair2},
		{domain.OrderLimitSell, arb.Pair3},
	}

	var prev domain.Order
	for i, leg := range legs {
		req := domain.LimitOrderRequest{
			ExchangeID: arb.ExchangeID,
			Type:       leg.typ,
			Pair:       leg.pair,
			ParentID:   arb.ID,
		}
		switch {
		case i == 0:
			req.Funds = arb.EstBaseSize
		case leg.typ.IsBuy():
			req.Funds = prev.EstimatedNetSize(slippage)
		default:
			req.Size = prev.EstimatedNetSize(slippage)
		}

		o, err := e.orders.LimitOrder(ctx, req)
		if o.ID != 0 {
			if serr := e.tarbits.SetOrderID(ctx, arb.ID, i+1, o.ID); serr != nil {
				log.ErrorContext(ctx, "record leg order failed",
					slog.Int("leg", i+1),
					slog.String("error", serr.Error()),
				)
			}
		}
		if err != nil {
			return e.fail(ctx, arb, i+1, err)
		}
		log.InfoContext(ctx, "leg filled",
			slog.Int("leg", i+1),
			slog.String("pair", o.Pair),
			slog.Float64("size", o.Size),
			slog.Float64("price", o.FillPrice),
			slog.Float64("fee", o.FillFee),
		)
		prev = o
	}

	net := prev.Size*prev.FillPrice - prev.FillFee - arb.EstBaseSize
	if err := e.tarbits.SetNet(ctx, arb.ID, net); err != nil {
		log.ErrorContext(ctx, "record net failed", slog.String("error", err.Error()))
	}
	arb.Net = net
	if err := e.setStatus(ctx, &arb, domain.ArbitCompleted); err != nil {
		return arb, err
	}
	log.InfoContext(ctx, "triangle completed",
		slog.Float64("est_net", arb.EstNet),
		slog.Float64("net", net),
	)
	e.publish(ctx, domain.EventTarbitCompleted, arb, "")
	return e.reload(ctx, arb), nil
}

func (e *Executor) fail(ctx context.Context, arb domain.TriangleArbit, leg int, cause error) (domain.TriangleArbit, error) {
	e.logger.WarnContext(ctx, "triangle failed",
		slog.Int64("arbit_id", arb.ID),
		slog.Int("leg", leg),
		slog.String("error", cause.Error()),
	)
	if err := e.setStatus(context.WithoutCancel(ctx), &arb, domain.ArbitFailed); err != nil {
		e.logger.ErrorContext(ctx, "mark arbit failed", slog.String("error", err.Error()))
	}
	reason := fmt.Sprintf("leg %d: %v", leg, cause)
	if errors.Is(cause, domain.ErrFillTimeout) {
		e.publish(ctx, domain.EventFillTimeout, arb, reason)
	}
	e.publish(ctx, domain.EventTarbitFailed, arb, reason)
	return e.reload(ctx, arb), fmt.Errorf("executor: arbit %d leg %d: %w", arb.ID, leg, cause)
}

func (e *Executor) setStatus(ctx context.Context, arb *domain.TriangleArbit, status domain.ArbitStatus) error {
	if err := e.tarbits.UpdateStatus(ctx, arb.ID, status); err != nil {
		return fmt.Errorf("executor: arbit %d to %s: %w", arb.ID, status, err)
	}
	arb.Status = status
	return nil
}

func (e *Executor) reload(ctx context.Context, arb domain.TriangleArbit) domain.TriangleArbit {
	fresh, err := e.tarbits.GetByID(context.WithoutCancel(ctx), arb.ID)
	if err != nil {
		return arb
	}
	return fresh
}

func (e *Executor) publish(ctx context.Context, typ string, arb domain.TriangleArbit, reason string) {
	if e.events == nil {
		return
	}
	e.events.PublishTarbit(ctx, domain.NewTarbitEvent(typ, arb, reason))
}

// Run executes arbitrages received on arbits until ctx is cancelled or the
// channel is closed. A triangle seen within the dedup window is skipped.
func (e *Executor) Run(ctx context.Context, arbits <-chan domain.TriangleArbit) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case arb, ok := <-arbits:
			if !ok {
				return nil
			}
			e.process(ctx, arb)

		case <-cleanup.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Executor) process(ctx context.Context, arb domain.TriangleArbit) {
	key := tarbit.SetFromArbit(arb).Key()
	if e.dedup.IsDuplicate(key) {
		e.logger.DebugContext(ctx, "triangle deduplicated, skipping",
			slog.Int64("arbit_id", arb.ID),
			slog.String("set", key),
		)
		return
	}

	_, err := e.Execute(ctx, arb.ID, e.cfg.Repeat)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrExchangeLocked):
		// another run owns the exchange; allow this triangle again later
		e.dedup.Forget(key)
		e.logger.DebugContext(ctx, "exchange busy, skipping",
			slog.Int64("arbit_id", arb.ID),
		)
	case errors.Is(err, domain.ErrBelowThreshold):
		e.logger.DebugContext(ctx, "arbit below minimum net",
			slog.Int64("arbit_id", arb.ID),
		)
	default:
		e.logger.ErrorContext(ctx, "arbit execution failed",
			slog.Int64("arbit_id", arb.ID),
			slog.String("error", err.Error()),
		)
	}
}
