package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceSetter moves the mark price of a simulated venue.
type PriceSetter interface {
	SetPrice(symbol string, price decimal.Decimal) (bool, error)
}

// PaperHandler drives the paper venue.
type PaperHandler struct {
	venue  PriceSetter
	logger *slog.Logger
}

// NewPaperHandler creates a PaperHandler.
func NewPaperHandler(venue PriceSetter, logger *slog.Logger) *PaperHandler {
	return &PaperHandler{venue: venue, logger: logHandler(logger, "paper")}
}

type setPriceRequest struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// SetPrice updates a symbol's price. The response reports whether the move
// triggered the position's stop or take-profit.
// POST /api/paper/price
func (h *PaperHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	closed, err := h.venue.SetPrice(symbol, req.Price)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if closed {
		h.logger.InfoContext(r.Context(), "handler: paper position closed by trigger",
			slog.String("symbol", symbol),
			slog.String("price", req.Price.String()),
		)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"price":  req.Price.String(),
		"closed": closed,
	})
}
