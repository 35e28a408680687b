package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Cache is an in-memory domain.Cache and domain.BookCache. TTLs are
// recorded but never expire entries.
type Cache struct {
	mu    sync.Mutex
	data  map[string][]byte
	ttls  map[string]time.Duration
	books map[string]domain.Orderbook

	Gets int
	Sets int
	// Err, when set, fails every call.
	Err error
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		data:  make(map[string][]byte),
		ttls:  make(map[string]time.Duration),
		books: make(map[string]domain.Orderbook),
	}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gets++
	if c.Err != nil {
		return nil, c.Err
	}
	v, ok := c.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (c *Cache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sets++
	if c.Err != nil {
		return c.Err
	}
	c.data[key] = append([]byte(nil), val...)
	c.ttls[key] = ttl
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *Cache) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string][]byte)
	c.books = make(map[string]domain.Orderbook)
	return nil
}

func bookKey(id domain.ExchangeID, pair string) string {
	return fmt.Sprintf("%d:%s", id, pair)
}

func (c *Cache) SetBook(_ context.Context, b domain.Orderbook, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.books[bookKey(b.ExchangeID, b.Pair)] = b
	c.ttls[bookKey(b.ExchangeID, b.Pair)] = ttl
	return nil
}

func (c *Cache) GetBook(_ context.Context, id domain.ExchangeID, pair string) (domain.Orderbook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return domain.Orderbook{}, c.Err
	}
	b, ok := c.books[bookKey(id, pair)]
	if !ok {
		return domain.Orderbook{}, domain.ErrNotFound
	}
	return b, nil
}

// BookTTL returns the ttl a book was stored with.
func (c *Cache) BookTTL(id domain.ExchangeID, pair string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttls[bookKey(id, pair)]
}

// Len returns the number of generic entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

var (
	_ domain.Cache     = (*Cache)(nil)
	_ domain.BookCache = (*Cache)(nil)
)
