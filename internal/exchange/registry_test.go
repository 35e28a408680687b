package exchange

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/testutil"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(testutil.NewAdapter(domain.ExchangeBinance), nil)
	r.Register(testutil.NewAdapter(domain.ExchangeCoinbase), nil)

	if ids := r.IDs(); len(ids) != 2 || ids[0] != domain.ExchangeCoinbase {
		t.Fatalf("ids = %v", ids)
	}
	if _, err := r.Adapter(domain.ExchangeKuCoin); !errors.Is(err, domain.ErrAdapterNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := r.Stream(domain.ExchangeCoinbase); !errors.Is(err, domain.ErrAdapterNotFound) {
		t.Fatalf("stream err = %v", err)
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"10101.80000000", 10101.8},
		{"0.00000001", 1e-8},
		{"", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		if got := ParseNumber(tt.in); got != tt.want {
			t.Errorf("ParseNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if got := FormatNumber(0.123456789, 4); got != "0.1234" {
		t.Fatalf("FormatNumber = %s", got)
	}
	if got := FormatNumber(19.999999, 2); got != "19.99" {
		t.Fatalf("FormatNumber truncates, got %s", got)
	}
}
