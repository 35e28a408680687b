package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/testutil"
)

type stubSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

type stubBus struct {
	mu       sync.Mutex
	channels []string
	streams  []string
	payloads [][]byte
}

func (b *stubBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *stubBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = append(b.streams, stream)
	return nil
}

func (b *stubBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestNotifyFiltersEvents(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		event  string
		want   int
	}{
		{name: "no filter", events: nil, event: domain.EventTarbitFound, want: 1},
		{name: "allowed", events: []string{"tarbit_failed", " tarbit_found "}, event: domain.EventTarbitFound, want: 1},
		{name: "filtered", events: []string{"tarbit_failed"}, event: domain.EventTarbitFound, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubSender{name: "stub"}
			n := NewNotifier([]Sender{s}, tt.events, testutil.Logger())
			if err := n.Notify(context.Background(), tt.event, "t", "m"); err != nil {
				t.Fatalf("Notify: %v", err)
			}
			if len(s.titles) != tt.want {
				t.Errorf("sent %d, want %d", len(s.titles), tt.want)
			}
		})
	}
}

func TestNotifyCooldown(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, testutil.Logger(),
		WithCooldown(time.Minute),
		withClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	steps := []struct {
		advance time.Duration
		message string
		want    int
	}{
		{0, "coinbase down", 1},
		{10 * time.Second, "coinbase down", 1},
		{0, "binance down", 2},
		{time.Minute, "coinbase down", 3},
	}
	for i, st := range steps {
		now = now.Add(st.advance)
		if err := n.Notify(ctx, domain.EventStreamDown, "Stream down", st.message); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if len(s.titles) != st.want {
			t.Fatalf("step %d: sent %d, want %d", i, len(s.titles), st.want)
		}
	}
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testutil.Logger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("err = %v, want bad sender failure", err)
	}
	if len(good.titles) != 1 {
		t.Errorf("good sender got %d messages, want 1", len(good.titles))
	}
}

func TestTelegramSender(t *testing.T) {
	var gotPath string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "tok", "42")
	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bottok/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if got["chat_id"] != "42" || got["text"] != "*Title*\nbody" {
		t.Errorf("payload = %v", got)
	}
}

func TestWebhookTruncates(t *testing.T) {
	w := &webhook{name: "discord", bold: "**", maxRunes: 10}
	tests := []struct {
		title, message, want string
	}{
		{"Hi", "ok", "**Hi**\nok"},
		{"Stream down", "binance", "**Stream …"},
	}
	for _, tt := range tests {
		if got := w.render(tt.title, tt.message); got != tt.want {
			t.Errorf("render(%q, %q) = %q, want %q", tt.title, tt.message, got, tt.want)
		}
	}
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "discord: unexpected status 429") {
		t.Fatalf("err = %v, want status 429", err)
	}
}

func TestPublisherFansOut(t *testing.T) {
	bus := &stubBus{}
	s := &stubSender{name: "stub"}
	p := NewPublisher(bus, NewNotifier([]Sender{s}, []string{domain.EventTarbitFailed}, testutil.Logger()), testutil.Logger())

	arb := domain.TriangleArbit{ID: 7, ExchangeID: domain.ExchangeCoinbase, Status: domain.ArbitFailed}
	p.PublishTarbit(context.Background(), domain.NewTarbitEvent(domain.EventTarbitFailed, arb, "leg 2 timeout"))
	p.PublishTarbit(context.Background(), domain.NewTarbitEvent(domain.EventTarbitFound, arb, ""))

	if len(bus.channels) != 2 || bus.channels[0] != "tarbit.tarbit_failed" {
		t.Errorf("channels = %v", bus.channels)
	}
	if len(bus.streams) != 2 || bus.streams[0] != TarbitStream {
		t.Errorf("streams = %v", bus.streams)
	}
	var evt domain.TarbitEvent
	if err := json.Unmarshal(bus.payloads[0], &evt); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if evt.ArbitID != 7 || evt.Reason != "leg 2 timeout" {
		t.Errorf("event = %+v", evt)
	}
	if len(s.titles) != 1 || s.titles[0] != "Tarbit failed" {
		t.Errorf("notified %v, want only the failure", s.titles)
	}
}

func TestPublisherWithoutSinks(t *testing.T) {
	p := NewPublisher(nil, nil, testutil.Logger())
	p.PublishTarbit(context.Background(), domain.TarbitEvent{Type: domain.EventTarbitFound})
}
