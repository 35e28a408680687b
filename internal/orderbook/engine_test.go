package orderbook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleWait = time.Millisecond
	cfg.UnprimedWait = time.Millisecond
	cfg.OverflowWait = time.Millisecond
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngineAppliesDiffsAfterSnapshot(t *testing.T) {
	e := NewEngine(domain.ExchangeCoinbase, StrictPolicy{}, nil, fastConfig(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		e.Wait()
	}()

	e.Subscribe(ctx, "BTC-USD")
	e.Subscribe(ctx, "BTC-USD")
	if got := e.Pairs(); len(got) != 1 {
		t.Fatalf("pairs = %v, want one", got)
	}

	// diffs that arrive before the snapshot wait in the queue
	e.Update(domain.LevelUpdate{Pair: "BTC-USD", Sequence: 5, Side: domain.SideBid, Price: 99, Size: 3})
	e.Update(domain.LevelUpdate{Pair: "BTC-USD", Sequence: 6, Side: domain.SideAsk, Price: 101, Size: 0})
	e.Update(domain.LevelUpdate{Pair: "ETH-USD", Sequence: 1, Side: domain.SideAsk, Price: 1, Size: 1})

	if _, ok := e.Live("BTC-USD"); ok {
		t.Fatal("book should not be live before priming")
	}

	e.Snapshot(domain.Orderbook{
		Pair:     "BTC-USD",
		Sequence: 5,
		Bids:     []domain.Level{{Price: 99, Size: 1}},
		Asks:     []domain.Level{{Price: 101, Size: 2}, {Price: 102, Size: 1}},
	})

	waitFor(t, func() bool {
		b, ok := e.Live("BTC-USD")
		return ok && b.Sequence == 6
	})

	b, _ := e.Live("BTC-USD")
	if len(b.Asks) != 1 || b.Asks[0].Price != 102 {
		t.Fatalf("asks = %+v, want only 102", b.Asks)
	}
	if b.Bids[0].Size != 1 {
		t.Fatalf("stale diff applied: bids = %+v", b.Bids)
	}
	if e.PrimedCount() != 1 {
		t.Fatalf("primed = %d, want 1", e.PrimedCount())
	}
}

func TestEngineResyncsOnGap(t *testing.T) {
	var mu sync.Mutex
	requested := []string{}
	var reasons []error

	e := NewEngine(domain.ExchangeBinance, StrictPolicy{}, func(_ context.Context, pair string) error {
		mu.Lock()
		requested = append(requested, pair)
		mu.Unlock()
		return nil
	}, fastConfig(), discardLogger())
	e.OnResync(func(_ string, reason error) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		e.Wait()
	}()

	e.Subscribe(ctx, "ETH-BTC")
	e.Snapshot(domain.Orderbook{Pair: "ETH-BTC", Sequence: 1})
	e.Update(domain.LevelUpdate{Pair: "ETH-BTC", Sequence: 3, Side: domain.SideBid, Price: 1, Size: 1})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(requested) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if requested[0] != "ETH-BTC" || !errors.Is(reasons[0], domain.ErrSequenceGap) {
		t.Fatalf("requested = %v reasons = %v", requested, reasons)
	}
	if e.Resyncs() != 1 {
		t.Fatalf("resyncs = %d, want 1", e.Resyncs())
	}
}

type fakeBookCache struct {
	mu    sync.Mutex
	books map[string]domain.Orderbook
}

func (f *fakeBookCache) SetBook(_ context.Context, b domain.Orderbook, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.books == nil {
		f.books = make(map[string]domain.Orderbook)
	}
	f.books[b.Pair] = b
	return nil
}

func (f *fakeBookCache) GetBook(_ context.Context, _ domain.ExchangeID, pair string) (domain.Orderbook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[pair]
	if !ok {
		return domain.Orderbook{}, domain.ErrNotFound
	}
	return b, nil
}

func TestPersisterStoresOnlyPrimedBooks(t *testing.T) {
	e := NewEngine(domain.ExchangeCoinbase, StrictPolicy{}, nil, fastConfig(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		e.Wait()
	}()
	e.Subscribe(ctx, "BTC-USD")
	e.Subscribe(ctx, "ETH-USD")
	e.Snapshot(domain.Orderbook{Pair: "BTC-USD", Sequence: 1, Bids: []domain.Level{{Price: 1, Size: 1}}})

	cache := &fakeBookCache{}
	connected := true
	p := NewPersister(e, cache, time.Second, 30*time.Second, func() bool { return connected }, discardLogger())

	if got := p.persistAll(ctx); got != 1 {
		t.Fatalf("stored %d, want 1", got)
	}
	if _, err := cache.GetBook(ctx, domain.ExchangeCoinbase, "BTC-USD"); err != nil {
		t.Fatalf("BTC-USD not cached: %v", err)
	}

	connected = false
	if got := p.persistAll(ctx); got != 0 {
		t.Fatalf("stored %d while disconnected", got)
	}
}
