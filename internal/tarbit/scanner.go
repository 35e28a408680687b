package tarbit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// RateSource resolves stable conversion rates. *market.Converter satisfies
// it.
type RateSource interface {
	StableRate(ctx context.Context, base string) (domain.StableRate, error)
}

// Scanner looks for profitable triangles across an exchange's catalog.
type Scanner struct {
	products  domain.ProductStore
	rates     RateSource
	estimator *Estimator
	events    domain.EventPublisher
	minVolume float64
	logger    *slog.Logger
}

// NewScanner creates a Scanner. events may be nil.
func NewScanner(products domain.ProductStore, rates RateSource, estimator *Estimator, events domain.EventPublisher, minVolume float64, logger *slog.Logger) *Scanner {
	return &Scanner{
		products:  products,
		rates:     rates,
		estimator: estimator,
		events:    events,
		minVolume: minVolume,
		logger:    logger.With(slog.String("component", "tarbit_scanner")),
	}
}

// Sets returns the triangle sets of an exchange's filtered catalog.
func (s *Scanner) Sets(ctx context.Context, id domain.ExchangeID) ([]domain.TriangleSet, error) {
	all, err := s.products.ListByExchange(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("tarbit: list products %s: %w", id, err)
	}
	return FindSets(id, FilterProducts(all, s.minVolume)), nil
}

// BaseSize converts the exchange's trading funds into quote. Funds are
// used as-is for a USD quote.
func (s *Scanner) BaseSize(ctx context.Context, ex domain.Exchange, quote string) (float64, error) {
	fundsCurrency := ex.FundsCurrency
	if fundsCurrency == "" {
		fundsCurrency = "USD"
	}
	if strings.EqualFold(quote, fundsCurrency) {
		return ex.Funds, nil
	}
	rate, err := s.rates.StableRate(ctx, quote)
	if err != nil {
		return 0, err
	}
	if rate.Rate <= 0 {
		return 0, fmt.Errorf("tarbit: zero rate for %s: %w", quote, domain.ErrNoConversion)
	}
	return ex.Funds / rate.Rate, nil
}

// Scan estimates every set of ex and returns the profitable estimates that
// were persisted. Failures of single sets are logged and skipped.
func (s *Scanner) Scan(ctx context.Context, ex domain.Exchange) ([]domain.TriangleArbit, error) {
	sets, err := s.Sets(ctx, ex.ID)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	sizes := make(map[string]float64)
	var found []domain.TriangleArbit
	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		quote := set.QuoteCurrency()
		baseSize, ok := sizes[quote]
		if !ok {
			baseSize, err = s.BaseSize(ctx, ex, quote)
			if err != nil {
				s.logger.WarnContext(ctx, "no stable conversion, skipping quote",
					slog.String("exchange", ex.ID.String()),
					slog.String("quote", quote),
					slog.String("error", err.Error()),
				)
			}
			sizes[quote] = baseSize
		}
		if baseSize <= 0 {
			continue
		}

		arb, err := s.estimator.Create(ctx, set, baseSize, 0)
		if err != nil {
			if !IsExpected(err) {
				s.logger.WarnContext(ctx, "estimate failed",
					slog.String("set", set.Key()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		s.logger.InfoContext(ctx, "profitable triangle",
			slog.Int64("arbit_id", arb.ID),
			slog.String("set", set.Key()),
			slog.Float64("est_net", arb.EstNet),
		)
		if s.events != nil {
			s.events.PublishTarbit(ctx, domain.NewTarbitEvent(domain.EventTarbitFound, arb, ""))
		}
		found = append(found, arb)
	}

	s.logger.InfoContext(ctx, "scan complete",
		slog.String("exchange", ex.ID.String()),
		slog.Int("sets", len(sets)),
		slog.Int("profitable", len(found)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return found, nil
}

// Best returns the estimate with the highest EstNet. Ties keep the earlier
// entry.
func Best(found []domain.TriangleArbit) (domain.TriangleArbit, bool) {
	if len(found) == 0 {
		return domain.TriangleArbit{}, false
	}
	best := found[0]
	for _, arb := range found[1:] {
		if arb.EstNet > best.EstNet {
			best = arb
		}
	}
	return best, true
}
