package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/exchange"
	"github.com/alanyoungcy/tarbot/internal/orderbook"
)

// serveFunc matches gobinance.WsCombinedDepthServe.
type serveFunc func(symbols []string, handler gobinance.WsDepthHandler, errHandler gobinance.ErrHandler) (chan struct{}, chan struct{}, error)

// Stream follows the diff-depth stream of every pair over one combined
// connection. Books are primed from REST snapshots; each event covers the
// update id range [FirstUpdateID, LastUpdateID].
type Stream struct {
	client        *Client
	serve         serveFunc
	maxReconnects int
	reconnectWait time.Duration
	logger        *slog.Logger

	mu   sync.Mutex
	sink domain.BookSink

	attempts  atomic.Int32
	connected atomic.Bool
}

var _ domain.BookStream = (*Stream)(nil)

// NewStream creates a stream that primes books through client.
func NewStream(client *Client, logger *slog.Logger) *Stream {
	return &Stream{
		client:        client,
		serve:         gobinance.WsCombinedDepthServe,
		maxReconnects: 10,
		reconnectWait: 2 * time.Second,
		logger:        logger.With(slog.String("component", "binance_stream")),
	}
}

// WithReconnect overrides the reconnect budget and the pause between
// sessions. Non-positive values keep the defaults.
func (s *Stream) WithReconnect(attempts int, wait time.Duration) *Stream {
	if attempts > 0 {
		s.maxReconnects = attempts
	}
	if wait > 0 {
		s.reconnectWait = wait
	}
	return s
}

func (s *Stream) ExchangeID() domain.ExchangeID { return domain.ExchangeBinance }

func (s *Stream) Policy() domain.SequencePolicy { return orderbook.RangePolicy{} }

func (s *Stream) Connected() bool { return s.connected.Load() }

// Run serves the combined stream and redials it until ctx ends or the
// reconnect budget is spent. A received event refills the budget.
func (s *Stream) Run(ctx context.Context, pairs []string, sink domain.BookSink) error {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()

	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		symbols = append(symbols, s.client.ToLocalPair(p))
	}

	for {
		err := s.session(ctx, symbols, pairs)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n := int(s.attempts.Add(1))
		if n > s.maxReconnects {
			return fmt.Errorf("binance: gave up after %d reconnects: %w", s.maxReconnects, errors.Join(domain.ErrWSDisconnect, err))
		}
		s.logger.WarnContext(ctx, "depth stream dropped, reconnecting",
			slog.Int("attempt", n),
			slog.Any("error", err),
		)

		t := time.NewTimer(s.reconnectWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Stream) session(ctx context.Context, symbols, pairs []string) error {
	var (
		errMu   sync.Mutex
		lastErr error
	)
	doneC, stopC, err := s.serve(symbols, s.handle, func(err error) {
		errMu.Lock()
		lastErr = err
		errMu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("binance: serve depth: %w", err)
	}
	s.connected.Store(true)
	defer s.connected.Store(false)

	// diffs buffer in the engine until the snapshots land
	for _, p := range pairs {
		if err := s.Resync(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "initial snapshot failed",
				slog.String("pair", p),
				slog.String("error", err.Error()),
			)
		}
	}

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case <-doneC:
		errMu.Lock()
		defer errMu.Unlock()
		if lastErr == nil {
			return errors.New("binance: depth stream closed")
		}
		return lastErr
	}
}

// Resync fetches a REST snapshot and hands it to the sink. The fetch is
// charged to the client's rate limiter.
func (s *Stream) Resync(ctx context.Context, pair string) error {
	if err := s.client.admit(ctx, "orderbook:"+pair); err != nil {
		return fmt.Errorf("binance: resync %s: %w", pair, err)
	}
	book, err := s.client.GetOrderbook(ctx, pair)
	if err != nil {
		return err
	}
	book.Primed = true
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Snapshot(book)
	}
	return nil
}

func (s *Stream) handle(ev *gobinance.WsDepthEvent) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil || ev == nil {
		return
	}
	s.attempts.Store(0)
	sink.Heartbeat()

	pair := s.client.ToCanonicalPair(ev.Symbol)
	emit := func(side domain.Side, price, size string) {
		sink.Update(domain.LevelUpdate{
			Pair:          pair,
			Sequence:      ev.LastUpdateID,
			FirstSequence: ev.FirstUpdateID,
			Side:          side,
			Price:         exchange.ParseNumber(price),
			Size:          exchange.ParseNumber(size),
		})
	}
	if len(ev.Bids) == 0 && len(ev.Asks) == 0 {
		// still advances the sequence
		emit(domain.SideBid, "0", "0")
		return
	}
	for _, b := range ev.Bids {
		emit(domain.SideBid, b.Price, b.Quantity)
	}
	for _, a := range ev.Asks {
		emit(domain.SideAsk, a.Price, a.Quantity)
	}
}
