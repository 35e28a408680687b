// Package ratelimit implements per-exchange admission control for outbound
// API calls using a rolling one-second window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

const (
	defaultWindow = time.Second
	defaultBuffer = time.Millisecond
)

type call struct {
	token string
	at    time.Time
}

// Window is an in-process sliding-window limiter. When the number of calls in
// the trailing window reaches the limit, Admit sleeps until the oldest call
// leaves the window and then records the new call. It never rejects.
type Window struct {
	mu     sync.Mutex
	name   string
	limit  int
	window time.Duration
	buffer time.Duration
	calls  []call
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWindow creates a limiter allowing limit calls per second. A limit below
// one disables limiting.
func NewWindow(name string, limit int, logger *slog.Logger) *Window {
	return &Window{
		name:   name,
		limit:  limit,
		window: defaultWindow,
		buffer: defaultBuffer,
		logger: logger.With(slog.String("component", "ratelimit"), slog.String("limiter", name)),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Admit waits as needed and then records the call.
func (w *Window) Admit(ctx context.Context, token string) error {
	if w.limit < 1 {
		return nil
	}
	for {
		wait := w.tryRecord(token)
		if wait <= 0 {
			return nil
		}
		w.logger.DebugContext(ctx, "rate limit sleeping",
			slog.String("token", token),
			slog.Duration("wait", wait),
		)
		if err := w.sleep(ctx, wait); err != nil {
			return fmt.Errorf("ratelimit: admit %s: %w", token, err)
		}
	}
}

// tryRecord prunes the window and records the call if there is room,
// otherwise it returns how long the caller must wait.
func (w *Window) tryRecord(token string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)
	keep := 0
	for keep < len(w.calls) && w.calls[keep].at.Before(cutoff) {
		keep++
	}
	w.calls = w.calls[keep:]

	if len(w.calls) >= w.limit {
		return w.calls[0].at.Add(w.window + w.buffer).Sub(now)
	}
	w.calls = append(w.calls, call{token: token, at: now})
	return 0
}

// InFlight returns the number of calls currently inside the window.
func (w *Window) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-w.window)
	n := 0
	for _, c := range w.calls {
		if !c.at.Before(cutoff) {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.RateLimiter = (*Window)(nil)
