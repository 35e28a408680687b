package coinbase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/exchange"
	"github.com/alanyoungcy/tarbot/internal/exchange/wsconn"
	"github.com/alanyoungcy/tarbot/internal/orderbook"
)

const (
	DefaultWSURL = "wss://ws-feed.pro.coinbase.com"
	SandboxWSURL = "wss://ws-feed-public.sandbox.pro.coinbase.com"
)

// Stream follows the level2 channel. The feed guarantees delivery but carries
// no sequence, so every snapshot starts a local counter and all changes of
// one l2update share the counter value.
type Stream struct {
	conn       *wsconn.Conn
	resyncWait time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	pairs []string
	sink  domain.BookSink
	seq   map[string]int64
}

var (
	_ domain.BookStream = (*Stream)(nil)
	_ wsconn.Handler    = (*Stream)(nil)
)

// NewStream creates a stream for wsURL using the shared reconnect settings.
func NewStream(wsURL string, logger *slog.Logger) *Stream {
	return NewStreamWithConfig(wsconn.DefaultConfig(wsURL), logger)
}

// NewStreamWithConfig creates a stream with explicit connection settings.
func NewStreamWithConfig(cfg wsconn.Config, logger *slog.Logger) *Stream {
	return &Stream{
		conn:       wsconn.New(cfg, logger),
		resyncWait: 2 * time.Second,
		logger:     logger.With(slog.String("component", "coinbase_stream")),
		seq:        make(map[string]int64),
	}
}

func (s *Stream) ExchangeID() domain.ExchangeID { return domain.ExchangeCoinbase }

func (s *Stream) Policy() domain.SequencePolicy { return orderbook.RepeatPolicy{} }

func (s *Stream) Connected() bool { return s.conn.Connected() }

// Run subscribes pairs and feeds sink until ctx ends or the reconnect budget
// runs out.
func (s *Stream) Run(ctx context.Context, pairs []string, sink domain.BookSink) error {
	s.mu.Lock()
	s.pairs = append([]string(nil), pairs...)
	s.sink = sink
	s.mu.Unlock()
	return s.conn.Run(ctx, s)
}

// Close stops the stream without reconnecting.
func (s *Stream) Close() { s.conn.Disconnect() }

func (s *Stream) OnConnect(ctx context.Context, c *wsconn.Conn) error {
	s.mu.Lock()
	pairs := append([]string(nil), s.pairs...)
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "subscribing level2", slog.Int("pairs", len(pairs)))
	return c.Send(ctx, subscribe("subscribe", pairs, "level2", "heartbeat"))
}

// Resync drops pair from the feed and subscribes it again, which makes
// Coinbase send a fresh snapshot.
func (s *Stream) Resync(ctx context.Context, pair string) error {
	local := []string{pair}
	if err := s.conn.Send(ctx, subscribe("unsubscribe", local, "level2")); err != nil {
		return fmt.Errorf("coinbase: resync %s: %w", pair, err)
	}

	t := time.NewTimer(s.resyncWait)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
	}

	if err := s.conn.Send(ctx, subscribe("subscribe", local, "level2")); err != nil {
		return fmt.Errorf("coinbase: resync %s: %w", pair, err)
	}
	return nil
}

func (s *Stream) OnMessage(raw []byte) {
	var msg wsMessage
	if err := sonnet.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("undecodable message", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}

	switch msg.Type {
	case "heartbeat":
		s.conn.Heartbeat()
		sink.Heartbeat()

	case "snapshot":
		s.mu.Lock()
		s.seq[msg.ProductID] = 1
		s.mu.Unlock()

		book := domain.Orderbook{
			ExchangeID: domain.ExchangeCoinbase,
			Pair:       msg.ProductID,
			Sequence:   0,
			Asks:       toLevels(msg.Asks),
			Bids:       toLevels(msg.Bids),
			FetchedAt:  time.Now(),
		}
		book.SortLevels()
		sink.Snapshot(book)

	case "l2update":
		s.mu.Lock()
		seq, ok := s.seq[msg.ProductID]
		if ok {
			s.seq[msg.ProductID] = seq + 1
		}
		s.mu.Unlock()
		if !ok {
			// updates before the snapshot are covered by it
			return
		}
		for _, ch := range msg.Changes {
			side := domain.SideAsk
			if ch[0] == "buy" {
				side = domain.SideBid
			}
			sink.Update(domain.LevelUpdate{
				Pair:     msg.ProductID,
				Sequence: seq,
				Side:     side,
				Price:    exchange.ParseNumber(ch[1]),
				Size:     exchange.ParseNumber(ch[2]),
			})
		}

	case "error":
		s.logger.Error("feed error",
			slog.String("message", msg.Message),
			slog.String("reason", msg.Reason),
		)

	case "subscriptions":
	default:
		s.logger.Debug("ignored message", slog.String("type", msg.Type))
	}
}

func subscribe(kind string, pairs []string, channels ...string) wsSubscribe {
	return wsSubscribe{Type: kind, ProductIDs: pairs, Channels: channels}
}
