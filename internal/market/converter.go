package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Currency groups used when resolving stable conversion rates.
var (
	DefaultStablecoins = []string{"TUSD", "USDC", "USDT", "USDK", "BGBP", "PAX", "EOSDT", "GUSD", "DAI"}
	DefaultFiat        = []string{"USD", "MXN", "GBP", "EUR"}
	DefaultPopcoins    = []string{"BTC", "BCH", "ETH"}
)

// ConverterConfig overrides the currency groups. Empty lists use the defaults.
type ConverterConfig struct {
	Stablecoins []string
	Fiat        []string
	Popcoins    []string
}

// Converter resolves the rate that expresses a currency in a stable unit.
type Converter struct {
	converts    domain.ConvertStore
	stablecoins map[string]bool
	fiat        map[string]bool
	popcoins    map[string]bool
	calls       domain.Cache
	callTTL     time.Duration
	logger      *slog.Logger
}

// NewConverter creates a Converter backed by stored conversions.
func NewConverter(converts domain.ConvertStore, cfg ConverterConfig, logger *slog.Logger) *Converter {
	pick := func(v, def []string) map[string]bool {
		if len(v) == 0 {
			v = def
		}
		out := make(map[string]bool, len(v))
		for _, s := range v {
			out[strings.ToUpper(s)] = true
		}
		return out
	}
	return &Converter{
		converts:    converts,
		stablecoins: pick(cfg.Stablecoins, DefaultStablecoins),
		fiat:        pick(cfg.Fiat, DefaultFiat),
		popcoins:    pick(cfg.Popcoins, DefaultPopcoins),
		logger:      logger.With(slog.String("component", "converter")),
	}
}

// WithCallCache memoizes the ticker lookups of Refresh in calls for ttl.
func (c *Converter) WithCallCache(calls domain.Cache, ttl time.Duration) *Converter {
	c.calls = calls
	c.callTTL = ttl
	return c
}

func (c *Converter) IsStablecoin(sym string) bool { return c.stablecoins[strings.ToUpper(sym)] }
func (c *Converter) IsFiat(sym string) bool       { return c.fiat[strings.ToUpper(sym)] }
func (c *Converter) IsPopcoin(sym string) bool    { return c.popcoins[strings.ToUpper(sym)] }

// convertible reports whether sym can serve as the stable side of a rate.
func (c *Converter) convertible(sym string) bool {
	return c.IsStablecoin(sym) || strings.EqualFold(sym, "USD")
}

func isUSD(sym string) bool {
	return strings.HasPrefix(strings.ToUpper(sym), "USD")
}

// StableRate returns the rate converting one unit of base into a stable
// currency. A USD-like quote wins, then any stablecoin or fiat quote, then a
// hop through a popular coin. ErrNoConversion is returned when nothing fits.
func (c *Converter) StableRate(ctx context.Context, base string) (domain.StableRate, error) {
	base = strings.ToUpper(base)
	if base == "USD" {
		return domain.StableRate{BaseCurrency: base, QuoteCurrency: base, Rate: 1, Source: "identity"}, nil
	}

	all, err := c.converts.FindByBase(ctx, []string{base})
	if err != nil {
		return domain.StableRate{}, fmt.Errorf("market: stable rate %s: %w", base, err)
	}

	for _, cv := range all {
		if isUSD(cv.QuoteCurrency) {
			return toRate(cv), nil
		}
	}
	for _, cv := range all {
		if c.IsStablecoin(cv.QuoteCurrency) || c.IsFiat(cv.QuoteCurrency) {
			return toRate(cv), nil
		}
	}
	for _, cv := range all {
		if !c.IsPopcoin(cv.QuoteCurrency) {
			continue
		}
		hop, err := c.preferredStable(ctx, cv.QuoteCurrency)
		if err != nil {
			continue
		}
		return domain.StableRate{
			BaseCurrency:  base,
			QuoteCurrency: cv.QuoteCurrency,
			Rate:          cv.Rate * hop.Rate,
			Source:        hop.Source,
		}, nil
	}
	return domain.StableRate{}, fmt.Errorf("market: stable rate %s: %w", base, domain.ErrNoConversion)
}

// preferredStable picks a USD-like conversion for base, else the first
// stablecoin conversion.
func (c *Converter) preferredStable(ctx context.Context, base string) (domain.CurrencyConvert, error) {
	all, err := c.converts.FindByBase(ctx, []string{base})
	if err != nil {
		return domain.CurrencyConvert{}, err
	}
	var first *domain.CurrencyConvert
	for i := range all {
		cv := all[i]
		if !c.convertible(cv.QuoteCurrency) {
			continue
		}
		if isUSD(cv.QuoteCurrency) {
			return cv, nil
		}
		if first == nil {
			first = &all[i]
		}
	}
	if first == nil {
		return domain.CurrencyConvert{}, domain.ErrNoConversion
	}
	return *first, nil
}

// ConvertVolume expresses volume, denominated in the base of pair, in a
// stable unit.
func (c *Converter) ConvertVolume(ctx context.Context, pair string, volume float64) (float64, error) {
	if volume == 0 {
		return 0, nil
	}
	base, _ := domain.SplitPair(pair)
	rate, err := c.StableRate(ctx, base)
	if err != nil {
		return 0, err
	}
	return volume * rate.Rate, nil
}

// Refresh derives conversion rates from the tickers of stable, fiat and
// popular-coin quoted products on one exchange and stores them. It returns
// how many rates were written.
func (c *Converter) Refresh(ctx context.Context, adapter domain.ExchangeAdapter, products []domain.Product) (int, error) {
	written := 0
	for _, p := range products {
		if p.Status != domain.ProductOnline {
			continue
		}
		q := p.QuoteCurrency
		if !c.convertible(q) && !c.IsFiat(q) && !c.IsPopcoin(q) {
			continue
		}
		pair := p.Pair()
		key := CallKey{Service: adapter.ID().String(), Method: "GetProductTicker", Args: []any{pair}}
		t, err := CachedCall(ctx, c.calls, key, c.callTTL, false, func(ctx context.Context) (domain.Ticker, error) {
			return adapter.GetProductTicker(ctx, pair)
		})
		if err != nil {
			c.logger.WarnContext(ctx, "ticker lookup failed",
				slog.String("pair", p.Pair()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if t.Price <= 0 {
			continue
		}
		cv := domain.CurrencyConvert{
			BaseCurrency:  p.BaseCurrency,
			QuoteCurrency: p.QuoteCurrency,
			Rate:          t.Price,
			Source:        "ex [" + adapter.ID().String() + "]",
		}
		if err := c.converts.Upsert(ctx, cv); err != nil {
			return written, fmt.Errorf("market: store convert %s: %w", p.Pair(), err)
		}
		written++
	}
	return written, nil
}

func toRate(cv domain.CurrencyConvert) domain.StableRate {
	return domain.StableRate{
		BaseCurrency:  cv.BaseCurrency,
		QuoteCurrency: cv.QuoteCurrency,
		Rate:          cv.Rate,
		Source:        cv.Source,
	}
}
