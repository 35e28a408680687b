package orderbook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type resyncRecorder struct {
	calls   int
	reasons []error
}

func (r *resyncRecorder) fn(_ context.Context, _ string, reason error) {
	r.calls++
	r.reasons = append(r.reasons, reason)
}

func primedBook(seq int64) *Book {
	b := NewBook(domain.ExchangeCoinbase, "ETH-BTC")
	b.Prime(domain.Orderbook{
		Pair:     "ETH-BTC",
		Sequence: seq,
		Bids:     []domain.Level{{Price: 100, Size: 1}},
		Asks:     []domain.Level{{Price: 101, Size: 1}},
	})
	return b
}

func newTestReconciler(book *Book, policy domain.SequencePolicy, rec *resyncRecorder) (*Reconciler, *Queue) {
	cfg := DefaultConfig()
	q := NewQueue(cfg.QueueLimit)
	return newReconciler(book, q, policy, cfg, rec.fn, discardLogger()), q
}

func TestStaleDiffIsNoop(t *testing.T) {
	rec := &resyncRecorder{}
	book := primedBook(10)
	r, q := newTestReconciler(book, StrictPolicy{}, rec)

	q.Push(domain.LevelUpdate{Pair: "ETH-BTC", Sequence: 9, Side: domain.SideBid, Price: 100, Size: 5})
	q.Push(domain.LevelUpdate{Pair: "ETH-BTC", Sequence: 10, Side: domain.SideBid, Price: 99, Size: 5})

	for i := 0; i < 2; i++ {
		if got := r.step(context.Background()); got != stepStale {
			t.Fatalf("step %d = %v, want stale", i, got)
		}
	}

	snap := book.Snapshot()
	if snap.Sequence != 10 {
		t.Fatalf("sequence = %d, want 10", snap.Sequence)
	}
	if len(snap.Bids) != 1 || snap.Bids[0] != (domain.Level{Price: 100, Size: 1}) {
		t.Fatalf("bids changed: %+v", snap.Bids)
	}
	if rec.calls != 0 {
		t.Fatalf("unexpected resync")
	}
}

func TestGapTriggersResyncAndDiscardsQueue(t *testing.T) {
	rec := &resyncRecorder{}
	book := primedBook(10)
	r, q := newTestReconciler(book, StrictPolicy{}, rec)

	q.Push(domain.LevelUpdate{Pair: "ETH-BTC", Sequence: 11, Side: domain.SideBid, Price: 100.5, Size: 2})
	q.Push(domain.LevelUpdate{Pair: "ETH-BTC", Sequence: 13, Side: domain.SideAsk, Price: 105, Size: 1})
	q.Push(domain.LevelUpdate{Pair: "ETH-BTC", Sequence: 14, Side: domain.SideAsk, Price: 106, Size: 1})

	if got := r.step(context.Background()); got != stepApplied {
		t.Fatalf("first step = %v, want applied", got)
	}
	if got := r.step(context.Background()); got != stepGap {
		t.Fatalf("second step = %v, want gap", got)
	}

	if rec.calls != 1 || !errors.Is(rec.reasons[0], domain.ErrSequenceGap) {
		t.Fatalf("resync calls = %d reasons = %v", rec.calls, rec.reasons)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not discarded, %d pending", q.Len())
	}
	if book.Primed() || book.Dequeueing() {
		t.Fatal("book should be unprimed and idle after a gap")
	}
	for _, l := range book.Snapshot().Asks {
		if l.Price == 105 || l.Price == 106 {
			t.Fatalf("gapped diff applied: %+v", l)
		}
	}
}

func TestOverflowForcesResync(t *testing.T) {
	rec := &resyncRecorder{}
	book := primedBook(0)
	cfg := DefaultConfig()
	cfg.Failsafe = 3
	q := NewQueue(cfg.QueueLimit)
	r := newReconciler(book, q, StrictPolicy{}, cfg, rec.fn, discardLogger())

	for i := int64(1); i <= 3; i++ {
		q.Push(domain.LevelUpdate{Pair: "ETH-BTC", Sequence: i, Side: domain.SideBid, Price: 90, Size: 1})
	}
	if got := r.step(context.Background()); got != stepOverflow {
		t.Fatalf("step = %v, want overflow", got)
	}
	if book.Dequeueing() {
		t.Fatal("dequeueing should stop on overflow")
	}

	r.reset(context.Background(), domain.ErrQueueOverflow)
	if rec.calls != 1 || !errors.Is(rec.reasons[0], domain.ErrQueueOverflow) {
		t.Fatalf("resync calls = %d reasons = %v", rec.calls, rec.reasons)
	}
}

func TestUnprimedBookWaits(t *testing.T) {
	rec := &resyncRecorder{}
	book := NewBook(domain.ExchangeCoinbase, "ETH-BTC")
	r, q := newTestReconciler(book, StrictPolicy{}, rec)

	if got := r.step(context.Background()); got != stepIdle {
		t.Fatalf("empty queue step = %v, want idle", got)
	}
	q.Push(domain.LevelUpdate{Pair: "ETH-BTC", Sequence: 1, Side: domain.SideBid, Price: 1, Size: 1})
	if got := r.step(context.Background()); got != stepUnprimed {
		t.Fatalf("step = %v, want unprimed", got)
	}
	if q.Len() != 1 {
		t.Fatal("diff should stay queued until the book is primed")
	}
}

func TestInOrderUpdatesMatchLastWrite(t *testing.T) {
	rec := &resyncRecorder{}
	book := NewBook(domain.ExchangeCoinbase, "ETH-BTC")
	book.Prime(domain.Orderbook{Pair: "ETH-BTC"})
	r, q := newTestReconciler(book, StrictPolicy{}, rec)

	rng := rand.New(rand.NewSource(42))
	want := map[domain.Side]map[float64]float64{
		domain.SideBid: {},
		domain.SideAsk: {},
	}
	for seq := int64(1); seq <= 150; seq++ {
		side := domain.SideBid
		if rng.Intn(2) == 1 {
			side = domain.SideAsk
		}
		price := float64(90 + rng.Intn(20))
		size := float64(rng.Intn(4)) // zero removes
		q.Push(domain.LevelUpdate{Pair: "ETH-BTC", Sequence: seq, Side: side, Price: price, Size: size})
		if size == 0 {
			delete(want[side], price)
		} else {
			want[side][price] = size
		}
		if got := r.step(context.Background()); got != stepApplied {
			t.Fatalf("seq %d: step = %v, want applied", seq, got)
		}
	}

	snap := book.Snapshot()
	check := func(side domain.Side, levels []domain.Level) {
		if len(levels) != len(want[side]) {
			t.Fatalf("%s: %d levels, want %d", side, len(levels), len(want[side]))
		}
		for _, l := range levels {
			if l.Size <= 0 {
				t.Fatalf("%s: non-positive level %+v", side, l)
			}
			if want[side][l.Price] != l.Size {
				t.Fatalf("%s: level %v size %v, want %v", side, l.Price, l.Size, want[side][l.Price])
			}
		}
	}
	check(domain.SideBid, snap.Bids)
	check(domain.SideAsk, snap.Asks)
	if snap.Sequence != 150 {
		t.Fatalf("sequence = %d, want 150", snap.Sequence)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := &resyncRecorder{}
	book := primedBook(1)
	cfg := DefaultConfig()
	cfg.IdleWait = time.Millisecond
	r := newReconciler(book, NewQueue(0), StrictPolicy{}, cfg, rec.fn, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !book.Dequeueing() {
		if time.Now().After(deadline) {
			t.Fatal("reconciler never started dequeueing")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
	if book.Dequeueing() {
		t.Fatal("dequeueing should be cleared on exit")
	}
}
