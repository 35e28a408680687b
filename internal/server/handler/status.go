package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// StatusSource reports the running engine.
type StatusSource interface {
	Status() domain.EngineStatus
}

// StatsStore counts tarbits per status.
type StatsStore interface {
	CountByStatus(ctx context.Context, exchangeID domain.ExchangeID) (map[domain.ArbitStatus]int64, error)
}

// StatusHandler serves the engine status and tarbit statistics.
type StatusHandler struct {
	source StatusSource
	stats  StatsStore
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(source StatusSource, stats StatsStore, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{source: source, stats: stats, logger: logger}
}

// GetStatus responds with the mode, uptime and stream state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.source.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           st.Mode,
		"uptime_seconds": st.UptimeSeconds,
		"streams":        st.Streams,
		"primed_books":   st.PrimedBooks,
	})
}

// GetStats responds with tarbit counts keyed by status name.
// GET /api/stats?exchange=coinbase
func (h *StatusHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	id, ok := parseExchange(exchange)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown exchange "+exchange)
		return
	}

	counts, err := h.stats.CountByStatus(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, "stats", err)
		return
	}

	byName := make(map[string]int64, len(counts))
	var total int64
	for s, n := range counts {
		byName[s.String()] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange": exchange,
		"tarbits":  byName,
		"total":    total,
	})
}
