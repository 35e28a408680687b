// Package exchange holds the adapter registry and the number helpers shared
// by the exchange adapters.
package exchange

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Registry resolves adapters and streams by exchange id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.ExchangeID]domain.ExchangeAdapter
	streams  map[domain.ExchangeID]domain.BookStream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.ExchangeID]domain.ExchangeAdapter),
		streams:  make(map[domain.ExchangeID]domain.BookStream),
	}
}

// Register adds an adapter and, if non-nil, its stream.
func (r *Registry) Register(a domain.ExchangeAdapter, s domain.BookStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
	if s != nil {
		r.streams[a.ID()] = s
	}
}

// Adapter returns the adapter for id.
func (r *Registry) Adapter(id domain.ExchangeID) (domain.ExchangeAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("exchange: %s: %w", id, domain.ErrAdapterNotFound)
	}
	return a, nil
}

// Stream returns the book stream for id.
func (r *Registry) Stream(id domain.ExchangeID) (domain.BookStream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	if !ok {
		return nil, fmt.Errorf("exchange: %s stream: %w", id, domain.ErrAdapterNotFound)
	}
	return s, nil
}

// IDs returns every registered exchange id, sorted.
func (r *Registry) IDs() []domain.ExchangeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ExchangeID, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseNumber converts an exchange decimal string. Empty or malformed input
// yields 0.
func ParseNumber(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// FormatNumber renders v truncated to places decimals, the way exchanges
// expect order prices and sizes.
func FormatNumber(v float64, places int32) string {
	return decimal.NewFromFloat(v).Truncate(places).String()
}
