package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// OrderReader looks up persisted orders.
type OrderReader interface {
	GetByID(ctx context.Context, id int64) (domain.Order, error)
}

// OrderHandler serves persisted orders.
type OrderHandler struct {
	orders OrderReader
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderReader, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// GetOrder returns one order with its fill state.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, "order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
