package market

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// CallKey identifies a memoized call by service, method and arguments.
type CallKey struct {
	Service string
	Method  string
	Args    []any
}

// Hash returns the cache key for k.
func (k CallKey) Hash() (string, error) {
	args, err := sonnet.Marshal(k.Args)
	if err != nil {
		return "", fmt.Errorf("market: encode call args: %w", err)
	}
	sum := md5.Sum([]byte(k.Service + "." + k.Method + "." + string(args)))
	return "call:" + hex.EncodeToString(sum[:]), nil
}

// CachedCall returns the cached result for key when present, otherwise it
// runs fn and caches the result for ttl. Failed calls are never cached.
// skipCache forces fn to run but still stores a successful result.
func CachedCall[T any](ctx context.Context, cache domain.Cache, key CallKey, ttl time.Duration, skipCache bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cache == nil {
		return fn(ctx)
	}
	hash, err := key.Hash()
	if err != nil {
		return zero, err
	}

	if !skipCache {
		// an unreachable cache degrades to a direct call
		if raw, err := cache.Get(ctx, hash); err == nil {
			var out T
			if err := sonnet.Unmarshal(raw, &out); err == nil {
				return out, nil
			}
		}
	}

	out, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	raw, err := sonnet.Marshal(out)
	if err != nil {
		return out, nil
	}
	// a cache write failure never hides a good result
	_ = cache.Set(ctx, hash, raw, ttl)
	return out, nil
}
