package tarbit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/quickfill"
)

// BookSource returns the freshest book for a pair. *market.Access
// satisfies it.
type BookSource interface {
	GetBook(ctx context.Context, id domain.ExchangeID, pair string) (domain.Orderbook, error)
}

// AdapterLookup resolves the adapter whose fee schedule prices a fill.
type AdapterLookup interface {
	Adapter(id domain.ExchangeID) (domain.ExchangeAdapter, error)
}

// Estimator chains quick-fills around a triangle.
type Estimator struct {
	books    BookSource
	adapters AdapterLookup
	products domain.ProductStore
	tarbits  domain.TarbitStore
	logger   *slog.Logger
}

// NewEstimator creates an Estimator. products may be nil, in which case
// insufficient fills are not counted.
func NewEstimator(books BookSource, adapters AdapterLookup, products domain.ProductStore, tarbits domain.TarbitStore, logger *slog.Logger) *Estimator {
	return &Estimator{
		books:    books,
		adapters: adapters,
		products: products,
		tarbits:  tarbits,
		logger:   logger.With(slog.String("component", "tarbit_estimator")),
	}
}

// QuickFill simulates an immediate order of amount on pair. It returns
// ErrInsufficientLiquidity together with the partial result when the book
// cannot absorb amount.
func (e *Estimator) QuickFill(ctx context.Context, id domain.ExchangeID, pair string, t domain.OrderType, amount float64) (domain.QuickFill, error) {
	adapter, err := e.adapters.Adapter(id)
	if err != nil {
		return domain.QuickFill{}, fmt.Errorf("tarbit: quick fill %s: %w", pair, err)
	}
	book, err := e.books.GetBook(ctx, id, pair)
	if err != nil {
		return domain.QuickFill{}, fmt.Errorf("tarbit: quick fill %s: %w", pair, err)
	}

	qf := quickfill.Simulate(book, t, amount, adapter)
	qf.ExchangeID = id
	qf.Pair = pair
	if !qf.OK {
		e.countInsufficient(ctx, id, pair)
		return qf, fmt.Errorf("tarbit: quick fill %s %s %.8f: %w", t, pair, amount, domain.ErrInsufficientLiquidity)
	}
	return qf, nil
}

func (e *Estimator) countInsufficient(ctx context.Context, id domain.ExchangeID, pair string) {
	if e.products == nil {
		return
	}
	p, err := e.products.GetByPair(ctx, id, pair)
	if err != nil {
		return
	}
	if err := e.products.IncrementInsufficientFills(ctx, p.ID); err != nil {
		e.logger.DebugContext(ctx, "count insufficient fill failed",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
	}
}

// Estimate runs the three legs for set starting with baseSize of the set's
// quote currency. No estimate is produced when any leg lacks liquidity.
func (e *Estimator) Estimate(ctx context.Context, set domain.TriangleSet, baseSize float64) (domain.TriangleEstimate, error) {
	id := set.ExchangeID

	first, err := e.QuickFill(ctx, id, set.First.Pair(), domain.OrderLimitBuy, baseSize)
	if err != nil {
		return domain.TriangleEstimate{}, err
	}
	second, err := e.QuickFill(ctx, id, set.Second.Pair(), domain.OrderLimitBuy, first.Size-first.TakerFee)
	if err != nil {
		return domain.TriangleEstimate{}, err
	}
	third, err := e.QuickFill(ctx, id, set.Third.Pair(), domain.OrderLimitSell, second.Size-second.TakerFee)
	if err != nil {
		return domain.TriangleEstimate{}, err
	}

	return domain.TriangleEstimate{
		Set:           set,
		BaseSize:      baseSize,
		QuoteCurrency: set.QuoteCurrency(),
		First:         first,
		Second:        second,
		Third:         third,
		Net:           third.Size*third.BestPrice - third.TakerFee - baseSize,
	}, nil
}

// Create estimates set and persists the estimate when it is profitable.
// Unprofitable estimates are dropped and reported as ErrBelowThreshold.
func (e *Estimator) Create(ctx context.Context, set domain.TriangleSet, baseSize float64, parentID int64) (domain.TriangleArbit, error) {
	est, err := e.Estimate(ctx, set, baseSize)
	if err != nil {
		return domain.TriangleArbit{}, err
	}

	e.logger.DebugContext(ctx, "triangle estimated",
		slog.String("set", set.Key()),
		slog.Float64("base_size", baseSize),
		slog.Float64("price1", est.First.BestPrice),
		slog.Float64("price2", est.Second.BestPrice),
		slog.Float64("price3", est.Third.BestPrice),
		slog.Float64("net", est.Net),
	)
	if est.Net <= 0 {
		return domain.TriangleArbit{}, fmt.Errorf("tarbit: %s net %.8f: %w", set.Key(), est.Net, domain.ErrBelowThreshold)
	}

	arb, err := e.tarbits.Create(ctx, domain.NewTriangleArbit(est, parentID))
	if err != nil {
		return domain.TriangleArbit{}, fmt.Errorf("tarbit: store estimate %s: %w", set.Key(), err)
	}
	return arb, nil
}

// SetFromArbit rebuilds the triangle of a persisted arbitrage.
func SetFromArbit(a domain.TriangleArbit) domain.TriangleSet {
	leg := func(pair string) domain.Product {
		base, quote := domain.SplitPair(pair)
		return domain.Product{ExchangeID: a.ExchangeID, BaseCurrency: base, QuoteCurrency: quote, Status: domain.ProductOnline}
	}
	return domain.TriangleSet{
		ExchangeID: a.ExchangeID,
		First:      leg(a.Pair1),
		Second:     leg(a.Pair2),
		Third:      leg(a.Pair3),
	}
}

// IsExpected reports whether err is a normal negative estimation outcome
// rather than a failure worth logging loudly.
func IsExpected(err error) bool {
	return errors.Is(err, domain.ErrInsufficientLiquidity) || errors.Is(err, domain.ErrBelowThreshold)
}
