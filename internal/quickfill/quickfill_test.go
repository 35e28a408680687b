package quickfill

import (
	"math"
	"testing"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSimulateBuy(t *testing.T) {
	tests := []struct {
		name      string
		asks      []domain.Level
		funds     float64
		wantOK    bool
		wantSize  float64
		wantPrice float64
		wantFills int
	}{
		{
			name:      "single level covers funds",
			asks:      []domain.Level{{Price: 3, Size: 100}},
			funds:     100,
			wantOK:    true,
			wantSize:  100.0 / 3,
			wantPrice: 3,
			wantFills: 1,
		},
		{
			name:      "exact level value",
			asks:      []domain.Level{{Price: 4, Size: 25}},
			funds:     100,
			wantOK:    true,
			wantSize:  25,
			wantPrice: 4,
			wantFills: 1,
		},
		{
			name:      "walks into second level",
			asks:      []domain.Level{{Price: 10, Size: 1}, {Price: 20, Size: 5}},
			funds:     30,
			wantOK:    true,
			wantSize:  2,
			wantPrice: 20,
			wantFills: 2,
		},
		{
			name:      "book exhausted",
			asks:      []domain.Level{{Price: 10, Size: 1}},
			funds:     30,
			wantOK:    false,
			wantSize:  1,
			wantFills: 1,
		},
		{
			name:   "empty book",
			funds:  30,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := domain.Orderbook{Pair: "ETH-USDT", Asks: tt.asks}
			qf := Simulate(book, domain.OrderLimitBuy, tt.funds, nil)
			if qf.OK != tt.wantOK {
				t.Fatalf("OK = %v, want %v", qf.OK, tt.wantOK)
			}
			if !almostEqual(qf.Size, tt.wantSize) {
				t.Errorf("Size = %v, want %v", qf.Size, tt.wantSize)
			}
			if qf.BestPrice != tt.wantPrice {
				t.Errorf("BestPrice = %v, want %v", qf.BestPrice, tt.wantPrice)
			}
			if len(qf.Fills) != tt.wantFills {
				t.Errorf("Fills = %d, want %d", len(qf.Fills), tt.wantFills)
			}
			if qf.Funds != tt.funds {
				t.Errorf("Funds = %v, want %v", qf.Funds, tt.funds)
			}
		})
	}
}

func TestSimulateSell(t *testing.T) {
	bids := []domain.Level{{Price: 10, Size: 1}, {Price: 9, Size: 2}}

	tests := []struct {
		name      string
		size      float64
		wantOK    bool
		wantPrice float64
		wantFills int
	}{
		{"first level", 0.5, true, 10, 1},
		{"last level touched", 2, true, 9, 2},
		{"whole book", 3, true, 9, 2},
		{"too large", 3.5, false, 0, 2},
		{"zero size", 0, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := domain.Orderbook{Pair: "BTC-USDT", Bids: bids}
			qf := Simulate(book, domain.OrderLimitSell, tt.size, nil)
			if qf.OK != tt.wantOK {
				t.Fatalf("OK = %v, want %v", qf.OK, tt.wantOK)
			}
			if qf.BestPrice != tt.wantPrice {
				t.Errorf("BestPrice = %v, want %v", qf.BestPrice, tt.wantPrice)
			}
			if qf.Size != tt.size {
				t.Errorf("Size = %v, want %v", qf.Size, tt.size)
			}
			if len(qf.Fills) != tt.wantFills {
				t.Errorf("Fills = %d, want %d", len(qf.Fills), tt.wantFills)
			}
		})
	}
}

func TestSimulateFeesAndMidPrice(t *testing.T) {
	book := domain.Orderbook{
		Pair: "BTC-USDT",
		Asks: []domain.Level{{Price: 102, Size: 10}},
		Bids: []domain.Level{{Price: 98, Size: 10}},
	}

	buy := Simulate(book, domain.OrderLimitBuy, 204, RateFees(0.001))
	if !almostEqual(buy.TakerFee, 2*0.001) {
		t.Errorf("buy fee = %v, want fee on base size", buy.TakerFee)
	}
	if buy.MarketPrice != 100 {
		t.Errorf("MarketPrice = %v, want 100", buy.MarketPrice)
	}

	sell := Simulate(book, domain.OrderLimitSell, 2, RateFees(0.001))
	if !almostEqual(sell.TakerFee, 2*98*0.001) {
		t.Errorf("sell fee = %v, want fee on quote value", sell.TakerFee)
	}
	if sell.Funds != 196 {
		t.Errorf("sell Funds = %v, want 196", sell.Funds)
	}

	oneSided := Simulate(domain.Orderbook{Bids: book.Bids}, domain.OrderLimitSell, 1, nil)
	if oneSided.MarketPrice != 0 {
		t.Errorf("MarketPrice = %v, want 0 for one-sided book", oneSided.MarketPrice)
	}
}
