package coinbase

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alanyoungcy/tarbot/internal/crypto"
	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/testutil"
)

type countingLimiter struct {
	mu     sync.Mutex
	tokens []string
}

func (l *countingLimiter) Admit(_ context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = append(l.tokens, token)
	return nil
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *countingLimiter) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.RESTURL = srv.URL
	cfg.Auth = crypto.HMACAuth{Key: "k", Secret: base64.StdEncoding.EncodeToString([]byte("s")), Passphrase: "p"}
	lim := &countingLimiter{}
	return NewClient(cfg, lim, testutil.Logger()), lim
}

func TestGetOrderbook(t *testing.T) {
	c, lim := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/BTC-USD/book" || r.URL.Query().Get("level") != "2" {
			t.Errorf("unexpected request %s", r.URL)
		}
		io.WriteString(w, `{"sequence":3,"bids":[["99.5","1",2],["100","2",1]],"asks":[["101","0.5",1],["100.5","1",1]]}`)
	})

	book, err := c.GetOrderbook(context.Background(), "btc-usd")
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}
	if book.Pair != "BTC-USD" || book.Sequence != 3 {
		t.Fatalf("book = %+v", book)
	}
	if book.BestBid().Price != 100 || book.BestAsk().Price != 100.5 {
		t.Fatalf("levels not sorted: bids=%v asks=%v", book.Bids, book.Asks)
	}
	if len(lim.tokens) != 0 {
		t.Fatalf("book fetch must not be admitted by the adapter, got %v", lim.tokens)
	}
}

func TestLimitOrderRequest(t *testing.T) {
	var body string
	c, lim := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("CB-ACCESS-SIGN") == "" || r.Header.Get("CB-ACCESS-KEY") != "k" {
			t.Errorf("request not signed: %v", r.Header)
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		io.WriteString(w, `{"id":"ext-1","product_id":"ETH-USD","side":"buy","price":"100","size":"0.12345678","status":"pending"}`)
	})

	o, err := c.LimitOrder(context.Background(), domain.OrderLimitBuy, "uuid-1", "ETH-USD", 0.123456789, 100.000000001)
	if err != nil {
		t.Fatalf("LimitOrder: %v", err)
	}
	if o.ID != "ext-1" || o.Status != domain.OrderOpen {
		t.Fatalf("order = %+v", o)
	}
	for _, want := range []string{`"client_oid":"uuid-1"`, `"size":"0.12345678"`, `"price":"100"`, `"time_in_force":"GTC"`, `"stp":"dc"`, `"side":"buy"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}
	if len(lim.tokens) != 1 || lim.tokens[0] != "limit-order" {
		t.Fatalf("tokens = %v", lim.tokens)
	}
}

func TestGetOrderByIDNotFoundIsClosed(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"NotFound"}`)
	})

	o, err := c.GetOrderByID(context.Background(), "gone", "ETH-USD")
	if err != nil {
		t.Fatalf("GetOrderByID: %v", err)
	}
	if o.Status != domain.OrderClosed {
		t.Fatalf("status = %v, want closed", o.Status)
	}

	if err := c.CancelOrder(context.Background(), "gone", "ETH-USD"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cancel err = %v", err)
	}
}

func TestOrderStatus(t *testing.T) {
	tests := []struct {
		name  string
		order cbOrder
		want  domain.OrderStatus
	}{
		{"settled flag", cbOrder{Status: "done", DoneReason: "filled", Settled: true}, domain.OrderSettled},
		{"open", cbOrder{Status: "open"}, domain.OrderOpen},
		{"pending", cbOrder{Status: "pending"}, domain.OrderOpen},
		{"received", cbOrder{Status: "received"}, domain.OrderOpen},
		{"active", cbOrder{Status: "active"}, domain.OrderOpen},
		{"done filled", cbOrder{Status: "done", DoneReason: "filled"}, domain.OrderFilled},
		{"done canceled", cbOrder{Status: "done", DoneReason: "canceled"}, domain.OrderClosed},
		{"settled without flag", cbOrder{Status: "settled"}, domain.OrderUnknown},
		{"rejected", cbOrder{Status: "rejected"}, domain.OrderFailed},
		{"strange", cbOrder{Status: "weird"}, domain.OrderUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := orderStatus(tt.order, 0); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetAllProducts(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":"BTC-USD","base_currency":"BTC","quote_currency":"USD","status":"online"},
			{"id":"ETH-BTC","base_currency":"ETH","quote_currency":"BTC","status":"delisted"}]`)
	})

	products, err := c.GetAllProducts(context.Background())
	if err != nil {
		t.Fatalf("GetAllProducts: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("got %d products", len(products))
	}
	if products[0].Status != domain.ProductOnline || products[1].Status != domain.ProductOffline {
		t.Fatalf("statuses = %v, %v", products[0].Status, products[1].Status)
	}
	if products[0].Pair() != "BTC-USD" || products[0].Volume24hStable != -1 {
		t.Fatalf("product = %+v", products[0])
	}
}

func TestTakerFee(t *testing.T) {
	c := NewClient(DefaultConfig(), nil, testutil.Logger())
	tests := []struct {
		name        string
		typ         domain.OrderType
		size, price float64
		want        float64
	}{
		{"small buy in base", domain.OrderLimitBuy, 1, 100, 0.005},
		{"small sell in quote", domain.OrderLimitSell, 1, 100, 0.5},
		{"mid tier", domain.OrderLimitSell, 1, 20000, 70},
		{"top tier", domain.OrderLimitSell, 1, 60000, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.TakerFee(tt.typ, "BTC-USD", tt.size, tt.price)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("fee = %v, want %v", got, tt.want)
			}
		})
	}
}

type sinkRecorder struct {
	snapshots  []domain.Orderbook
	updates    []domain.LevelUpdate
	heartbeats int
}

func (s *sinkRecorder) Snapshot(b domain.Orderbook) { s.snapshots = append(s.snapshots, b) }
func (s *sinkRecorder) Update(u domain.LevelUpdate) { s.updates = append(s.updates, u) }
func (s *sinkRecorder) Heartbeat()                  { s.heartbeats++ }

func TestStreamSequencesLevel2(t *testing.T) {
	s := NewStream("ws://unused", testutil.Logger())
	sink := &sinkRecorder{}
	s.sink = sink

	// diffs before the first snapshot are dropped
	s.OnMessage([]byte(`{"type":"l2update","product_id":"BTC-USD","changes":[["buy","1","1"]]}`))
	s.OnMessage([]byte(`{"type":"snapshot","product_id":"BTC-USD","bids":[["10","1"]],"asks":[["11","2"]]}`))
	s.OnMessage([]byte(`{"type":"l2update","product_id":"BTC-USD","changes":[["buy","10","0"],["sell","11.5","3"]]}`))
	s.OnMessage([]byte(`{"type":"l2update","product_id":"BTC-USD","changes":[["sell","12","1"]]}`))
	s.OnMessage([]byte(`{"type":"heartbeat"}`))

	if len(sink.snapshots) != 1 || sink.snapshots[0].Sequence != 0 {
		t.Fatalf("snapshots = %+v", sink.snapshots)
	}
	want := []domain.LevelUpdate{
		{Pair: "BTC-USD", Sequence: 1, Side: domain.SideBid, Price: 10, Size: 0},
		{Pair: "BTC-USD", Sequence: 1, Side: domain.SideAsk, Price: 11.5, Size: 3},
		{Pair: "BTC-USD", Sequence: 2, Side: domain.SideAsk, Price: 12, Size: 1},
	}
	if len(sink.updates) != len(want) {
		t.Fatalf("updates = %+v", sink.updates)
	}
	for i := range want {
		if sink.updates[i] != want[i] {
			t.Errorf("update %d = %+v, want %+v", i, sink.updates[i], want[i])
		}
	}
	if sink.heartbeats != 1 {
		t.Fatalf("heartbeats = %d", sink.heartbeats)
	}

	// every update must be accepted by the stream's policy
	p := s.Policy()
	state := domain.BookState{Sequence: 0}
	for _, u := range sink.updates {
		if !p.Next(u, state) {
			t.Fatalf("policy rejects %+v at %d", u, state.Sequence)
		}
		state.Sequence = u.Sequence
	}
}
