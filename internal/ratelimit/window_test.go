package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestWindow(limit int) (*Window, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	w := NewWindow("test", limit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.now = clock.now
	w.sleep = clock.sleep
	return w, clock
}

func TestAdmitUnderLimitDoesNotWait(t *testing.T) {
	w, clock := newTestWindow(3)
	for i := 0; i < 3; i++ {
		if err := w.Admit(context.Background(), "book"); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		clock.t = clock.t.Add(100 * time.Millisecond)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("expected no sleeps, got %v", clock.sleeps)
	}
	if got := w.InFlight(); got != 3 {
		t.Fatalf("in flight = %d, want 3", got)
	}
}

func TestAdmitAtLimitWaitsForOldestCall(t *testing.T) {
	w, clock := newTestWindow(2)
	start := clock.t

	_ = w.Admit(context.Background(), "a") // t=0
	clock.t = start.Add(300 * time.Millisecond)
	_ = w.Admit(context.Background(), "b") // t=300ms
	clock.t = start.Add(500 * time.Millisecond)

	if err := w.Admit(context.Background(), "c"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if len(clock.sleeps) != 1 {
		t.Fatalf("expected one sleep, got %v", clock.sleeps)
	}
	// oldest at 0 leaves the window at 1s, plus 1ms buffer, from now=500ms.
	if want := 501 * time.Millisecond; clock.sleeps[0] != want {
		t.Fatalf("sleep = %v, want %v", clock.sleeps[0], want)
	}
	if got := w.InFlight(); got != 2 {
		t.Fatalf("in flight = %d, want 2", got)
	}
}

func TestAdmitHonoursContext(t *testing.T) {
	w, _ := newTestWindow(1)
	w.sleep = sleepCtx

	if err := w.Admit(context.Background(), "first"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Admit(ctx, "second")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestZeroLimitDisablesLimiting(t *testing.T) {
	w, clock := newTestWindow(0)
	for i := 0; i < 50; i++ {
		_ = w.Admit(context.Background(), "x")
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("expected no sleeps, got %d", len(clock.sleeps))
	}
}

func TestSetReusesLimiterPerExchange(t *testing.T) {
	built := 0
	s := NewSet(map[domain.ExchangeID]int{domain.ExchangeCoinbase: 3}, 10,
		func(id domain.ExchangeID, limit int) domain.RateLimiter {
			built++
			if id == domain.ExchangeCoinbase && limit != 3 {
				t.Errorf("coinbase limit = %d, want 3", limit)
			}
			if id == domain.ExchangeBinance && limit != 10 {
				t.Errorf("binance limit = %d, want 10", limit)
			}
			return NewWindow(id.String(), limit, slog.New(slog.NewTextHandler(io.Discard, nil)))
		}, nil)

	a := s.For(domain.ExchangeCoinbase)
	b := s.For(domain.ExchangeCoinbase)
	_ = s.For(domain.ExchangeBinance)
	if a != b {
		t.Fatal("expected the same limiter for repeated lookups")
	}
	if built != 2 {
		t.Fatalf("built %d limiters, want 2", built)
	}
}
