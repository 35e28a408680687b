package domain

import (
	"context"
	"time"
)

// Cache is a shared key/value store with TTL. Get returns ErrNotFound on a
// miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

// BookCache stores recent orderbook snapshots for other processes and for
// the REST fallback.
type BookCache interface {
	SetBook(ctx context.Context, book Orderbook, ttl time.Duration) error
	GetBook(ctx context.Context, exchangeID ExchangeID, pair string) (Orderbook, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus publishes tarbit lifecycle events to pub/sub and a durable stream.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
