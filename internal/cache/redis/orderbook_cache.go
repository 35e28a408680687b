package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// BookCache implements domain.BookCache with one sorted set and one size
// hash per side.
//
// Key schema:
//
//	book:{exchange}:{pair}:asks      - sorted set of ask prices (score = price)
//	book:{exchange}:{pair}:bids      - sorted set of bid prices (score = price)
//	book:{exchange}:{pair}:ask:size  - hash mapping price -> size for asks
//	book:{exchange}:{pair}:bid:size  - hash mapping price -> size for bids
//	book:{exchange}:{pair}:meta      - hash with seq, ts, primed, fetched
type BookCache struct {
	c *Client
}

var _ domain.BookCache = (*BookCache)(nil)

// NewBookCache creates a BookCache backed by c.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{c: c}
}

type bookKeys struct {
	asks, bids, askSize, bidSize, meta string
}

func (bc *BookCache) keys(id domain.ExchangeID, pair string) bookKeys {
	base := bc.c.key("book", strconv.Itoa(int(id)), pair)
	return bookKeys{
		asks:    base + ":asks",
		bids:    base + ":bids",
		askSize: base + ":ask:size",
		bidSize: base + ":bid:size",
		meta:    base + ":meta",
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetBook atomically replaces the cached copy of book.
func (bc *BookCache) SetBook(ctx context.Context, book domain.Orderbook, ttl time.Duration) error {
	k := bc.keys(book.ExchangeID, book.Pair)
	pipe := bc.c.rdb.TxPipeline()

	pipe.Del(ctx, k.asks, k.bids, k.askSize, k.bidSize, k.meta)
	for _, lvl := range book.Asks {
		p := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, k.asks, redis.Z{Score: lvl.Price, Member: p})
		pipe.HSet(ctx, k.askSize, p, formatFloat(lvl.Size))
	}
	for _, lvl := range book.Bids {
		p := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, k.bids, redis.Z{Score: lvl.Price, Member: p})
		pipe.HSet(ctx, k.bidSize, p, formatFloat(lvl.Size))
	}

	fetched := book.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	pipe.HSet(ctx, k.meta,
		"seq", book.Sequence,
		"ts", book.Timestamp,
		"primed", strconv.FormatBool(book.Primed),
		"product", book.ProductID,
		"fetched", fetched.UnixMilli(),
	)
	if ttl > 0 {
		for _, key := range []string{k.asks, k.bids, k.askSize, k.bidSize, k.meta} {
			pipe.Expire(ctx, key, ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s %s: %w", book.ExchangeID, book.Pair, err)
	}
	return nil
}

// GetBook returns domain.ErrNotFound when nothing is cached for the pair.
func (bc *BookCache) GetBook(ctx context.Context, id domain.ExchangeID, pair string) (domain.Orderbook, error) {
	k := bc.keys(id, pair)
	pipe := bc.c.rdb.Pipeline()
	metaCmd := pipe.HGetAll(ctx, k.meta)
	asksCmd := pipe.ZRangeWithScores(ctx, k.asks, 0, -1)
	bidsCmd := pipe.ZRevRangeWithScores(ctx, k.bids, 0, -1)
	askSizeCmd := pipe.HGetAll(ctx, k.askSize)
	bidSizeCmd := pipe.HGetAll(ctx, k.bidSize)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Orderbook{}, fmt.Errorf("redis: get book %s %s: %w", id, pair, err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return domain.Orderbook{}, domain.ErrNotFound
	}

	book := domain.Orderbook{
		ExchangeID: id,
		Pair:       pair,
		Asks:       levels(asksCmd.Val(), askSizeCmd.Val()),
		Bids:       levels(bidsCmd.Val(), bidSizeCmd.Val()),
	}
	book.Sequence, _ = strconv.ParseInt(meta["seq"], 10, 64)
	book.Timestamp, _ = strconv.ParseInt(meta["ts"], 10, 64)
	book.ProductID, _ = strconv.ParseInt(meta["product"], 10, 64)
	book.Primed, _ = strconv.ParseBool(meta["primed"])
	if ms, err := strconv.ParseInt(meta["fetched"], 10, 64); err == nil {
		book.FetchedAt = time.UnixMilli(ms)
	}
	return book, nil
}

func levels(zs []redis.Z, sizes map[string]string) []domain.Level {
	out := make([]domain.Level, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		size, err := strconv.ParseFloat(sizes[member], 64)
		if err != nil {
			continue
		}
		out = append(out, domain.Level{Price: z.Score, Size: size})
	}
	return out
}
