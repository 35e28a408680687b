package orderbook

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Resyncer requests a fresh snapshot for pair from the stream or REST API.
// The snapshot is delivered later through Engine.Snapshot.
type Resyncer func(ctx context.Context, pair string) error

type pairState struct {
	book  *Book
	queue *Queue
}

// Engine owns every book of one exchange and implements domain.BookSink so an
// adapter stream can feed it directly.
type Engine struct {
	exchangeID domain.ExchangeID
	policy     domain.SequencePolicy
	resync     Resyncer
	cfg        Config
	logger     *slog.Logger

	mu       sync.RWMutex
	pairs    map[string]*pairState
	onResync func(pair string, reason error)

	wg            sync.WaitGroup
	lastHeartbeat atomic.Int64
	resyncs       atomic.Int64
}

// NewEngine creates an engine for one exchange. policy comes from the
// exchange's stream.
func NewEngine(exchangeID domain.ExchangeID, policy domain.SequencePolicy, resync Resyncer, cfg Config, logger *slog.Logger) *Engine {
	if policy == nil {
		policy = StrictPolicy{}
	}
	return &Engine{
		exchangeID: exchangeID,
		policy:     policy,
		resync:     resync,
		cfg:        cfg,
		logger: logger.With(
			slog.String("component", "orderbook_engine"),
			slog.String("exchange", exchangeID.String()),
		),
		pairs: make(map[string]*pairState),
	}
}

// ExchangeID returns the exchange this engine serves.
func (e *Engine) ExchangeID() domain.ExchangeID { return e.exchangeID }

// OnResync registers a callback invoked after every resync request.
func (e *Engine) OnResync(fn func(pair string, reason error)) {
	e.mu.Lock()
	e.onResync = fn
	e.mu.Unlock()
}

// Subscribe creates the book for pair and starts its reconciler. Calling it
// again for a known pair is a no-op.
func (e *Engine) Subscribe(ctx context.Context, pair string) {
	e.mu.Lock()
	if _, ok := e.pairs[pair]; ok {
		e.mu.Unlock()
		return
	}
	ps := &pairState{
		book:  NewBook(e.exchangeID, pair),
		queue: NewQueue(e.cfg.QueueLimit),
	}
	e.pairs[pair] = ps
	e.mu.Unlock()

	rec := newReconciler(ps.book, ps.queue, e.policy, e.cfg, e.handleResync, e.logger)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = rec.Run(ctx)
	}()
}

func (e *Engine) handleResync(ctx context.Context, pair string, reason error) {
	e.resyncs.Add(1)

	e.mu.RLock()
	cb := e.onResync
	e.mu.RUnlock()
	if cb != nil {
		cb(pair, reason)
	}

	if e.resync == nil {
		return
	}
	if err := e.resync(ctx, pair); err != nil {
		e.logger.WarnContext(ctx, "resync request failed",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
	}
}

// Snapshot primes the book for book.Pair. Snapshots for unknown pairs are
// ignored.
func (e *Engine) Snapshot(book domain.Orderbook) {
	ps := e.state(book.Pair)
	if ps == nil {
		e.logger.Debug("snapshot for unsubscribed pair", slog.String("pair", book.Pair))
		return
	}
	ps.book.Prime(book)
}

// Update queues a diff for its pair.
func (e *Engine) Update(u domain.LevelUpdate) {
	ps := e.state(u.Pair)
	if ps == nil {
		return
	}
	ps.queue.Push(u)
}

// Heartbeat records stream liveness.
func (e *Engine) Heartbeat() {
	e.lastHeartbeat.Store(time.Now().UnixNano())
}

// LastHeartbeat returns when the stream last reported a heartbeat.
func (e *Engine) LastHeartbeat() time.Time {
	ns := e.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (e *Engine) state(pair string) *pairState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pairs[pair]
}

// Book returns the live book for pair.
func (e *Engine) Book(pair string) (*Book, bool) {
	ps := e.state(pair)
	if ps == nil {
		return nil, false
	}
	return ps.book, true
}

// Live returns a snapshot of pair if it is primed and being dequeued.
func (e *Engine) Live(pair string) (domain.Orderbook, bool) {
	ps := e.state(pair)
	if ps == nil || !ps.book.Live() {
		return domain.Orderbook{}, false
	}
	return ps.book.Snapshot(), true
}

// Pairs returns every subscribed pair, sorted.
func (e *Engine) Pairs() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.pairs))
	for p := range e.pairs {
		out = append(out, p)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// PrimedCount returns how many books are currently primed.
func (e *Engine) PrimedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, ps := range e.pairs {
		if ps.book.Primed() {
			n++
		}
	}
	return n
}

// Resyncs returns the number of resyncs requested since start.
func (e *Engine) Resyncs() int64 { return e.resyncs.Load() }

// Wait blocks until every reconciler has exited.
func (e *Engine) Wait() { e.wg.Wait() }

var _ domain.BookSink = (*Engine)(nil)
