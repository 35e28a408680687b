package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = eventsPongWait * 9 / 10
)

// EventSource is the read side of the event bus.
type EventSource interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves tarbit lifecycle events, replayed from the durable
// stream or pushed live over a websocket.
type EventsHandler struct {
	source   EventSource
	stream   string
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler serves events of stream. Browser origins are checked by
// allowOrigin; nil accepts any.
func NewEventsHandler(source EventSource, stream string, allowOrigin func(string) bool, logger *slog.Logger) *EventsHandler {
	h := &EventsHandler{source: source, stream: stream, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowOrigin == nil || allowOrigin(origin)
		},
	}
	return h
}

type eventEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Replay returns stream entries after an ID.
// GET /api/events?after=0&limit=50
func (h *EventsHandler) Replay(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	if !validStreamID(after) {
		writeError(w, http.StatusBadRequest, "invalid after id")
		return
	}
	msgs, err := h.source.StreamRead(r.Context(), h.stream, after, parseLimit(r))
	if err != nil {
		writeStoreError(w, r, h.logger, "events", err)
		return
	}
	entries := make([]eventEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, eventEntry{ID: m.ID, Event: m.Payload})
	}
	next := after
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries, "next": next})
}

// Live upgrades to a websocket and pushes every event of the given type,
// or of all types, until the client goes away.
// GET /api/events/live?type=tarbit_failed
func (h *EventsHandler) Live(w http.ResponseWriter, r *http.Request) {
	channel := "tarbit.*"
	if t := r.URL.Query().Get("type"); t != "" {
		channel = "tarbit." + t
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	events, err := h.source.Subscribe(ctx, channel)
	if err != nil {
		h.logger.WarnContext(ctx, "events subscribe failed", slog.String("error", err.Error()))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "event bus unavailable"),
			time.Now().Add(eventsWriteWait))
		return
	}

	// The reader only services pongs and notices the client closing.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		}
	}
}

// validStreamID accepts "<ms>", "<ms>-<seq>" and "0".
func validStreamID(id string) bool {
	ms, seq, hasSeq := strings.Cut(id, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	if hasSeq {
		_, err := strconv.ParseUint(seq, 10, 64)
		return err == nil
	}
	return true
}
