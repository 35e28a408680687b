package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// CallCache implements domain.Cache. It backs the memoized exchange calls
// and the cache-flush mode.
type CallCache struct {
	c *Client
}

var _ domain.Cache = (*CallCache)(nil)

// NewCallCache creates a CallCache backed by c.
func NewCallCache(c *Client) *CallCache {
	return &CallCache{c: c}
}

func (cc *CallCache) cacheKey(key string) string {
	return cc.c.key("cache", key)
}

// Get returns domain.ErrNotFound on a miss.
func (cc *CallCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := cc.c.rdb.Get(ctx, cc.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return val, nil
}

func (cc *CallCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := cc.c.rdb.Set(ctx, cc.cacheKey(key), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (cc *CallCache) Delete(ctx context.Context, key string) error {
	if err := cc.c.rdb.Del(ctx, cc.cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: delete %s: %w", key, err)
	}
	return nil
}

// Flush drops every cached call and book of this prefix. Limiter windows,
// locks and event streams are kept.
func (cc *CallCache) Flush(ctx context.Context) error {
	for _, pattern := range []string{cc.c.key("cache", "*"), cc.c.key("book", "*")} {
		if _, err := cc.c.unlinkMatching(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}
