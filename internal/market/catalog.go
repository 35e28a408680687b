package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// VolumeConverter expresses a base-denominated volume in a stable unit.
// *Converter satisfies it.
type VolumeConverter interface {
	ConvertVolume(ctx context.Context, pair string, volume float64) (float64, error)
}

// CatalogResult summarizes one catalog sync.
type CatalogResult struct {
	Online   int
	Offline  int
	Unpriced int // products without a stable conversion
}

// Catalog mirrors an exchange's product list into the product store.
type Catalog struct {
	adapters AdapterLookup
	calls    domain.Cache
	callTTL  time.Duration
	products domain.ProductStore
	volumes  VolumeConverter
	logger   *slog.Logger
}

// NewCatalog creates a Catalog. Product listings are memoized in calls for
// callTTL. calls and volumes may be nil.
func NewCatalog(adapters AdapterLookup, calls domain.Cache, callTTL time.Duration, products domain.ProductStore, volumes VolumeConverter, logger *slog.Logger) *Catalog {
	return &Catalog{
		adapters: adapters,
		calls:    calls,
		callTTL:  callTTL,
		products: products,
		volumes:  volumes,
		logger:   logger.With(slog.String("component", "catalog")),
	}
}

// Sync upserts every product the exchange lists as online and takes
// stored products it no longer lists offline. Stable volumes are
// recomputed; a product with no conversion keeps its stored value.
func (c *Catalog) Sync(ctx context.Context, id domain.ExchangeID) (CatalogResult, error) {
	var res CatalogResult
	adapter, err := c.adapters.Adapter(id)
	if err != nil {
		return res, fmt.Errorf("market: sync catalog: %w", err)
	}
	key := CallKey{Service: id.String(), Method: "GetAllProducts"}
	listed, err := CachedCall(ctx, c.calls, key, c.callTTL, false, adapter.GetAllProducts)
	if err != nil {
		return res, fmt.Errorf("market: sync catalog %s: %w", id, err)
	}

	seen := make(map[string]bool, len(listed))
	for _, p := range listed {
		p.ExchangeID = id
		p.Status = domain.ProductOnline
		p.Volume24hStable = c.stableVolume(ctx, p)
		if p.Volume24hStable < 0 {
			res.Unpriced++
		}
		if _, err := c.products.Upsert(ctx, p); err != nil {
			return res, fmt.Errorf("market: sync catalog: %w", err)
		}
		seen[p.Pair()] = true
		res.Online++
	}

	stored, err := c.products.ListByExchange(ctx, id)
	if err != nil {
		return res, fmt.Errorf("market: sync catalog: %w", err)
	}
	for _, p := range stored {
		if seen[p.Pair()] || p.Status == domain.ProductOffline {
			continue
		}
		if err := c.products.SetStatus(ctx, p.ID, domain.ProductOffline); err != nil {
			return res, fmt.Errorf("market: sync catalog: %w", err)
		}
		res.Offline++
	}

	c.logger.InfoContext(ctx, "catalog synced",
		slog.String("exchange", id.String()),
		slog.Int("online", res.Online),
		slog.Int("offline", res.Offline),
		slog.Int("unpriced", res.Unpriced),
	)
	return res, nil
}

// stableVolume returns -1 when the volume cannot be converted.
func (c *Catalog) stableVolume(ctx context.Context, p domain.Product) float64 {
	if c.volumes == nil {
		return -1
	}
	v, err := c.volumes.ConvertVolume(ctx, p.Pair(), p.Volume24h)
	if err != nil {
		if !errors.Is(err, domain.ErrNoConversion) {
			c.logger.WarnContext(ctx, "stable volume failed",
				slog.String("pair", p.Pair()),
				slog.String("error", err.Error()),
			)
		}
		return -1
	}
	return v
}
