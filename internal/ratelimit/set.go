package ratelimit

import (
	"log/slog"
	"sync"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Factory builds the limiter for one exchange. It lets the app swap in the
// Redis-backed limiter without the adapters knowing.
type Factory func(id domain.ExchangeID, limit int) domain.RateLimiter

// Set hands out one limiter per exchange, created on first use.
type Set struct {
	mu       sync.Mutex
	limits   map[domain.ExchangeID]int
	fallback int
	factory  Factory
	limiters map[domain.ExchangeID]domain.RateLimiter
}

// NewSet creates a Set. limits overrides the per-second limit for specific
// exchanges; fallback applies to all others. A nil factory builds in-process
// Windows.
func NewSet(limits map[domain.ExchangeID]int, fallback int, factory Factory, logger *slog.Logger) *Set {
	if factory == nil {
		factory = func(id domain.ExchangeID, limit int) domain.RateLimiter {
			return NewWindow(id.String(), limit, logger)
		}
	}
	return &Set{
		limits:   limits,
		fallback: fallback,
		factory:  factory,
		limiters: make(map[domain.ExchangeID]domain.RateLimiter),
	}
}

// For returns the limiter for id.
func (s *Set) For(id domain.ExchangeID) domain.RateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[id]; ok {
		return l
	}
	limit := s.fallback
	if v, ok := s.limits[id]; ok {
		limit = v
	}
	l := s.factory(id, limit)
	s.limiters[id] = l
	return l
}
