package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// BookSource returns the freshest book for a pair.
type BookSource interface {
	GetBook(ctx context.Context, id domain.ExchangeID, pair string) (domain.Orderbook, error)
}

// BookHandler serves order books.
type BookHandler struct {
	books  BookSource
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(books BookSource, logger *slog.Logger) *BookHandler {
	return &BookHandler{books: books, logger: logger}
}

type levelResponse struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type bookResponse struct {
	Exchange string          `json:"exchange"`
	Pair     string          `json:"pair"`
	Sequence int64           `json:"sequence"`
	Primed   bool            `json:"primed"`
	Asks     []levelResponse `json:"asks"`
	Bids     []levelResponse `json:"bids"`
}

// GetBook returns the top ?depth= levels (default 10) of a book.
// GET /api/books/{exchange}/{pair}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := domain.ParseExchangeID(r.PathValue("exchange"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown exchange")
		return
	}
	pair := r.PathValue("pair")

	depth := 10
	if v := r.URL.Query().Get("depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			depth = n
		}
	}

	book, err := h.books.GetBook(r.Context(), id, pair)
	if err != nil {
		writeStoreError(w, r, h.logger, "book", err)
		return
	}

	writeJSON(w, http.StatusOK, bookResponse{
		Exchange: id.String(),
		Pair:     pair,
		Sequence: book.Sequence,
		Primed:   book.Primed,
		Asks:     topLevels(book.Asks, depth),
		Bids:     topLevels(book.Bids, depth),
	})
}

func topLevels(levels []domain.Level, depth int) []levelResponse {
	out := make([]levelResponse, 0, min(depth, len(levels)))
	for _, l := range levels {
		if len(out) == depth {
			break
		}
		out = append(out, levelResponse{Price: l.Price, Size: l.Size})
	}
	return out
}
