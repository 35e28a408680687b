package redis

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter is a sliding-window limiter shared by every process that
// talks to the same exchange. It keeps request timestamps in a sorted set
// and admits through an atomic Lua script.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	key           string
	limit         int
	window        time.Duration
	logger        *slog.Logger
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates a limiter admitting limit calls per window under
// name.
func NewRateLimiter(c *Client, name string, limit int, window time.Duration, logger *slog.Logger) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		rdb:           c.rdb,
		slidingWindow: redis.NewScript(slidingWindowLua),
		key:           c.key("ratelimit", name),
		limit:         limit,
		window:        window,
		logger:        logger.With(slog.String("component", "redis_rate_limiter"), slog.String("limiter", name)),
	}
}

// allow tries to record one call. When the window is full it returns how
// long until the oldest call leaves it.
func (rl *RateLimiter) allow(ctx context.Context, token string) (bool, time.Duration, error) {
	res, err := rl.slidingWindow.Run(ctx, rl.rdb,
		[]string{rl.key},
		time.Now().UnixMicro(),
		rl.window.Microseconds(),
		rl.limit,
		token+":"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", rl.key, err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected result length %d", rl.key, len(res))
	}
	return res[0] == 1, time.Duration(res[1]) * time.Microsecond, nil
}

// Admit blocks until the call fits in the window. Redis errors are logged
// and the call is admitted, since the exchange enforces its own limit.
func (rl *RateLimiter) Admit(ctx context.Context, token string) error {
	for {
		ok, wait, err := rl.allow(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rl.logger.WarnContext(ctx, "rate limiter unavailable, admitting",
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
