package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/server/handler"
	"github.com/alanyoungcy/tarbot/internal/testutil"
)

type fakeStatus struct{}

func (fakeStatus) Status() domain.EngineStatus {
	return domain.EngineStatus{
		Mode:          "tarbit-scan",
		UptimeSeconds: 42,
		Streams:       map[string]bool{"coinbase": true},
	}
}

type fakeTarbits struct {
	arbs []domain.TriangleArbit
}

func (f fakeTarbits) GetByID(_ context.Context, id int64) (domain.TriangleArbit, error) {
	for _, a := range f.arbs {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.TriangleArbit{}, domain.ErrNotFound
}

func (f fakeTarbits) ListRecent(_ context.Context, id domain.ExchangeID, limit int) ([]domain.TriangleArbit, error) {
	var out []domain.TriangleArbit
	for _, a := range f.arbs {
		if (id == 0 || a.ExchangeID == id) && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f fakeTarbits) CountByStatus(_ context.Context, id domain.ExchangeID) (map[domain.ArbitStatus]int64, error) {
	out := make(map[domain.ArbitStatus]int64)
	for _, a := range f.arbs {
		if id == 0 || a.ExchangeID == id {
			out[a.Status]++
		}
	}
	return out, nil
}

type fakeBooks map[string]domain.Orderbook

func (f fakeBooks) GetBook(_ context.Context, id domain.ExchangeID, pair string) (domain.Orderbook, error) {
	b, ok := f[id.String()+"/"+pair]
	if !ok {
		return domain.Orderbook{}, domain.ErrNotFound
	}
	return b, nil
}

type fakeEvents struct {
	live chan []byte
}

func (f fakeEvents) Subscribe(context.Context, string) (<-chan []byte, error) {
	return f.live, nil
}

func (fakeEvents) StreamRead(_ context.Context, _ string, after string, limit int) ([]domain.StreamMessage, error) {
	all := []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"tarbit_found"}`)},
		{ID: "2-0", Payload: []byte(`{"type":"tarbit_failed"}`)},
	}
	var out []domain.StreamMessage
	for _, m := range all {
		if m.ID > after && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func newTestServer(apiKey string, checks map[string]handler.Checker) http.Handler {
	logger := testutil.Logger()
	tarbits := fakeTarbits{arbs: []domain.TriangleArbit{
		{ID: 1, ExchangeID: domain.ExchangeCoinbase, Status: domain.ArbitCompleted},
		{ID: 2, ExchangeID: domain.ExchangeBinance, Status: domain.ArbitFailed},
		{ID: 3, ExchangeID: domain.ExchangeCoinbase, Status: domain.ArbitFailed},
	}}
	books := fakeBooks{"coinbase/BTC-USD": {
		Sequence: 9,
		Primed:   true,
		Asks:     []domain.Level{{Price: 101, Size: 1}, {Price: 102, Size: 2}},
		Bids:     []domain.Level{{Price: 100, Size: 3}},
	}}
	srv := NewServer(Config{APIKey: apiKey}, Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Status:  handler.NewStatusHandler(fakeStatus{}, tarbits, logger),
		Books:   handler.NewBookHandler(books, logger),
		Tarbits: handler.NewTarbitHandler(tarbits, logger),
		Events:  handler.NewEventsHandler(fakeEvents{}, "tarbits", nil, logger),
	}, logger)
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: decode body %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestRoutes(t *testing.T) {
	h := newTestServer("", nil)
	tests := []struct {
		path string
		want int
	}{
		{"/api/health", http.StatusOK},
		{"/api/status", http.StatusOK},
		{"/api/stats", http.StatusOK},
		{"/api/stats?exchange=nowhere", http.StatusBadRequest},
		{"/api/books/coinbase/BTC-USD", http.StatusOK},
		{"/api/books/coinbase/ETH-USD", http.StatusNotFound},
		{"/api/books/nowhere/BTC-USD", http.StatusBadRequest},
		{"/api/tarbits/recent", http.StatusOK},
		{"/api/tarbits/3", http.StatusOK},
		{"/api/tarbits/99", http.StatusNotFound},
		{"/api/tarbits/abc", http.StatusBadRequest},
		{"/api/events", http.StatusOK},
		{"/api/events?after=x-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if code, body := get(t, h, tt.path, nil); code != tt.want {
				t.Errorf("status = %d, want %d (body %v)", code, tt.want, body)
			}
		})
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	_, body := get(t, newTestServer("", nil), "/api/stats?exchange=coinbase", nil)
	counts := body["tarbits"].(map[string]any)
	if counts["failed"] != float64(1) || counts["completed"] != float64(1) {
		t.Errorf("tarbits = %v", counts)
	}
	if body["total"] != float64(2) {
		t.Errorf("total = %v, want 2", body["total"])
	}
}

func TestBookDepth(t *testing.T) {
	_, body := get(t, newTestServer("", nil), "/api/books/coinbase/BTC-USD?depth=1", nil)
	if asks := body["asks"].([]any); len(asks) != 1 {
		t.Errorf("asks = %v, want one level", asks)
	}
	if body["sequence"] != float64(9) || body["primed"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestRecentFiltersExchange(t *testing.T) {
	_, body := get(t, newTestServer("", nil), "/api/tarbits/recent?exchange=binance", nil)
	if arbs := body["tarbits"].([]any); len(arbs) != 1 {
		t.Errorf("tarbits = %v, want one", arbs)
	}
}

func TestAuth(t *testing.T) {
	h := newTestServer("secret", nil)
	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"health is open", "/api/health", nil, http.StatusOK},
		{"missing token", "/api/status", nil, http.StatusUnauthorized},
		{"wrong token", "/api/status", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer", "/api/status", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"api key", "/api/status", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := get(t, h, tt.path, tt.header); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestHealthDegraded(t *testing.T) {
	h := newTestServer("", map[string]handler.Checker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	code, body := get(t, h, "/api/health", nil)
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("health = %d %v", code, body)
	}
	deps := body["dependencies"].(map[string]any)
	if deps["postgres"] != "ok" || deps["redis"] != "connection refused" {
		t.Errorf("dependencies = %v", deps)
	}
}

func TestRateLimit(t *testing.T) {
	logger := testutil.Logger()
	srv := NewServer(Config{RatePerSecond: 0.001, RateBurst: 2}, Handlers{
		Health: handler.NewHealthHandler(nil, logger),
	}, logger)

	codes := make([]int, 0, 3)
	for range 3 {
		code, _ := get(t, srv.Handler(), "/api/health", nil)
		codes = append(codes, code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want 200 200 429", codes)
	}
}

func TestEventsReplay(t *testing.T) {
	_, body := get(t, newTestServer("", nil), "/api/events?after=1-0", nil)
	events := body["events"].([]any)
	if len(events) != 1 || body["next"] != "2-0" {
		t.Fatalf("body = %v", body)
	}
	first := events[0].(map[string]any)
	if first["event"].(map[string]any)["type"] != "tarbit_failed" {
		t.Errorf("event = %v", first)
	}
}

func TestEventsLive(t *testing.T) {
	logger := testutil.Logger()
	live := make(chan []byte, 1)
	srv := NewServer(Config{}, Handlers{
		Events: handler.NewEventsHandler(fakeEvents{live: live}, "tarbits", nil, logger),
	}, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events/live", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	live <- []byte(`{"type":"tarbit_completed"}`)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"type":"tarbit_completed"}` {
		t.Errorf("msg = %s", msg)
	}
}
