package orderbook

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// Config tunes the reconciler loop.
type Config struct {
	Failsafe     int           // pending diffs that force a resync
	QueueLimit   int           // hard cap on queued diffs while unprimed
	IdleWait     time.Duration // sleep when the queue is empty
	UnprimedWait time.Duration // sleep while waiting for a snapshot
	OverflowWait time.Duration // pause before resyncing a book that fell behind
	ResyncRetry  time.Duration // re-request a snapshot that has not arrived
}

// DefaultConfig returns the loop settings used in production.
func DefaultConfig() Config {
	return Config{
		Failsafe:     200,
		QueueLimit:   2000,
		IdleWait:     100 * time.Millisecond,
		UnprimedWait: time.Second,
		OverflowWait: 3 * time.Second,
		ResyncRetry:  30 * time.Second,
	}
}

type stepResult int

const (
	stepIdle stepResult = iota
	stepUnprimed
	stepApplied
	stepStale
	stepGap
	stepOverflow
)

// resyncFunc clears a pair and asks the stream for a fresh snapshot.
type resyncFunc func(ctx context.Context, pair string, reason error)

// Reconciler drains one pair's queue into its book in sequence order.
type Reconciler struct {
	book   *Book
	queue  *Queue
	policy domain.SequencePolicy
	cfg    Config
	resync resyncFunc
	logger *slog.Logger

	resyncAt time.Time
}

func newReconciler(book *Book, queue *Queue, policy domain.SequencePolicy, cfg Config, resync resyncFunc, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		book:     book,
		queue:    queue,
		policy:   policy,
		cfg:      cfg,
		resync:   resync,
		logger:   logger.With(slog.String("pair", book.Pair())),
		resyncAt: time.Now(),
	}
}

// Run loops until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.book.setDequeueing(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var wait time.Duration
		switch r.step(ctx) {
		case stepIdle:
			wait = r.cfg.IdleWait
		case stepUnprimed:
			wait = r.cfg.UnprimedWait
			if r.cfg.ResyncRetry > 0 && time.Since(r.resyncAt) > r.cfg.ResyncRetry {
				r.logger.WarnContext(ctx, "snapshot overdue, requesting again")
				r.reset(ctx, domain.ErrBookNotReady)
			}
		case stepOverflow:
			if !sleep(ctx, r.cfg.OverflowWait) {
				return ctx.Err()
			}
			r.reset(ctx, domain.ErrQueueOverflow)
		}

		if wait > 0 && !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// step performs one iteration of the drain loop.
func (r *Reconciler) step(ctx context.Context) stepResult {
	primed := r.book.Primed()
	if primed && !r.book.Dequeueing() {
		r.book.setDequeueing(true)
	}

	pending := r.queue.Len()
	if pending == 0 {
		return stepIdle
	}
	if !primed {
		return stepUnprimed
	}
	if pending >= r.cfg.Failsafe {
		r.logger.ErrorContext(ctx, "fell too far behind, resetting",
			slog.Int("pending", pending),
		)
		r.book.setDequeueing(false)
		return stepOverflow
	}

	u, ok := r.queue.Pop()
	if !ok {
		return stepIdle
	}

	state := r.book.State()
	if r.policy.Stale(u, state) {
		return stepStale
	}
	if !r.policy.Next(u, state) {
		r.logger.DebugContext(ctx, "out of sequence, resetting",
			slog.Int64("incoming", u.Sequence),
			slog.Int64("current", state.Sequence),
		)
		r.reset(ctx, domain.ErrSequenceGap)
		return stepGap
	}

	if !r.book.apply(u) {
		r.logger.DebugContext(ctx, "remove of missing price level",
			slog.Float64("price", u.Price),
			slog.String("side", string(u.Side)),
		)
	}
	return stepApplied
}

// reset discards the book and the queue and requests a new snapshot.
func (r *Reconciler) reset(ctx context.Context, reason error) {
	r.book.Reset()
	discarded := r.queue.Clear()
	r.resyncAt = time.Now()
	r.logger.InfoContext(ctx, "resync requested",
		slog.String("reason", reason.Error()),
		slog.Int("discarded", discarded),
	)
	if r.resync != nil {
		r.resync(ctx, r.book.Pair(), reason)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
