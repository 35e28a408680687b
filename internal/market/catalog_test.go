package market

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/testutil"
)

func TestCatalogSync(t *testing.T) {
	ctx := context.Background()
	adapter := testutil.NewAdapter(domain.ExchangeCoinbase)
	adapter.Products = []domain.Product{
		{ExtID: "BTC-USD", BaseCurrency: "BTC", QuoteCurrency: "USD", Volume24h: 2},
		{ExtID: "XYZ-BTC", BaseCurrency: "XYZ", QuoteCurrency: "BTC", Volume24h: 5},
	}
	products := testutil.NewProductStore(
		domain.Product{ExchangeID: domain.ExchangeCoinbase, BaseCurrency: "ABC", QuoteCurrency: "USD", Status: domain.ProductOnline},
		domain.Product{ExchangeID: domain.ExchangeCoinbase, BaseCurrency: "OLD", QuoteCurrency: "USD", Status: domain.ProductOffline},
		domain.Product{ExchangeID: domain.ExchangeBinance, BaseCurrency: "ETH", QuoteCurrency: "USDT", Status: domain.ProductOnline},
	)
	converter := NewConverter(testutil.NewConvertStore(
		domain.CurrencyConvert{BaseCurrency: "BTC", QuoteCurrency: "USD", Rate: 100},
	), ConverterConfig{Stablecoins: []string{"USDT"}}, testutil.Logger())

	catalog := NewCatalog(testutil.Registry{adapter.ID(): adapter}, nil, 0, products, converter, testutil.Logger())
	res, err := catalog.Sync(ctx, domain.ExchangeCoinbase)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res != (CatalogResult{Online: 2, Offline: 1, Unpriced: 1}) {
		t.Fatalf("result = %+v", res)
	}

	tests := []struct {
		exchange domain.ExchangeID
		pair     string
		status   domain.ProductStatus
		stable   float64
	}{
		{domain.ExchangeCoinbase, "BTC-USD", domain.ProductOnline, 200},
		{domain.ExchangeCoinbase, "XYZ-BTC", domain.ProductOnline, -1},
		{domain.ExchangeCoinbase, "ABC-USD", domain.ProductOffline, 0},
		{domain.ExchangeCoinbase, "OLD-USD", domain.ProductOffline, 0},
		{domain.ExchangeBinance, "ETH-USDT", domain.ProductOnline, 0},
	}
	for _, tt := range tests {
		t.Run(tt.pair, func(t *testing.T) {
			p, err := products.GetByPair(ctx, tt.exchange, tt.pair)
			if err != nil {
				t.Fatalf("GetByPair: %v", err)
			}
			if p.Status != tt.status {
				t.Errorf("status = %v, want %v", p.Status, tt.status)
			}
			if p.Volume24hStable != tt.stable {
				t.Errorf("stable volume = %v, want %v", p.Volume24hStable, tt.stable)
			}
		})
	}
}

func TestCatalogSyncUnknownExchange(t *testing.T) {
	catalog := NewCatalog(testutil.Registry{}, nil, 0, testutil.NewProductStore(), nil, testutil.Logger())
	if _, err := catalog.Sync(context.Background(), domain.ExchangeBinance); err == nil {
		t.Fatal("expected an error for an unregistered exchange")
	}
}

func TestCatalogSyncMemoizesListing(t *testing.T) {
	ctx := context.Background()
	adapter := testutil.NewAdapter(domain.ExchangeCoinbase)
	adapter.Products = []domain.Product{
		{ExtID: "BTC-USD", BaseCurrency: "BTC", QuoteCurrency: "USD"},
		{ExtID: "XYZ-BTC", BaseCurrency: "XYZ", QuoteCurrency: "BTC"},
	}
	products := testutil.NewProductStore()
	catalog := NewCatalog(testutil.Registry{adapter.ID(): adapter}, testutil.NewCache(), time.Minute, products, nil, testutil.Logger())

	if _, err := catalog.Sync(ctx, domain.ExchangeCoinbase); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	adapter.Products = adapter.Products[:1]
	res, err := catalog.Sync(ctx, domain.ExchangeCoinbase)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Online != 2 || res.Offline != 0 {
		t.Fatalf("second sync = %+v, want the memoized listing", res)
	}
}
