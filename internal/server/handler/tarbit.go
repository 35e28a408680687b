package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// TarbitReader is the read side of domain.TarbitStore.
type TarbitReader interface {
	GetByID(ctx context.Context, id int64) (domain.TriangleArbit, error)
	ListRecent(ctx context.Context, exchangeID domain.ExchangeID, limit int) ([]domain.TriangleArbit, error)
}

// TarbitHandler serves persisted triangle arbitrages.
type TarbitHandler struct {
	tarbits TarbitReader
	logger  *slog.Logger
}

// NewTarbitHandler creates a TarbitHandler.
func NewTarbitHandler(tarbits TarbitReader, logger *slog.Logger) *TarbitHandler {
	return &TarbitHandler{tarbits: tarbits, logger: logger}
}

// ListRecent returns the newest tarbits.
// GET /api/tarbits/recent?exchange=binance&limit=50
func (h *TarbitHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseExchange(r.URL.Query().Get("exchange"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown exchange")
		return
	}

	arbs, err := h.tarbits.ListRecent(r.Context(), id, parseLimit(r))
	if err != nil {
		writeStoreError(w, r, h.logger, "tarbits", err)
		return
	}
	if arbs == nil {
		arbs = []domain.TriangleArbit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tarbits": arbs})
}

// GetTarbit returns one tarbit.
// GET /api/tarbits/{id}
func (h *TarbitHandler) GetTarbit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	arb, err := h.tarbits.GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, "tarbit", err)
		return
	}
	writeJSON(w, http.StatusOK, arb)
}
