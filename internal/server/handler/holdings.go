package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

// HoldingsHandler serves cost-basis summaries.
type HoldingsHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewHoldingsHandler creates a HoldingsHandler with the given service and logger.
func NewHoldingsHandler(trades TradeService, logger *slog.Logger) *HoldingsHandler {
	return &HoldingsHandler{trades: trades, logger: logHandler(logger, "holdings")}
}

type holdingView struct {
	Symbol        string     `json:"symbol"`
	Quantity      string     `json:"quantity"`
	AveragePrice  string     `json:"average_price"`
	CostBasis     string     `json:"cost_basis"`
	MarketPrice   string     `json:"market_price,omitempty"`
	MarketValue   string     `json:"market_value,omitempty"`
	UnrealizedPnL string     `json:"unrealized_pnl,omitempty"`
	PricedAt      *time.Time `json:"priced_at,omitempty"`
}

func newHoldingView(h domain.Holding) holdingView {
	v := holdingView{
		Symbol:       h.Symbol,
		Quantity:     h.Quantity.String(),
		AveragePrice: h.AveragePrice.String(),
		CostBasis:    h.CostBasis.String(),
	}
	if h.MarketPrice.IsPositive() {
		v.MarketPrice = h.MarketPrice.String()
		v.MarketValue = h.MarketValue.String()
		v.UnrealizedPnL = h.UnrealizedPnL.String()
	}
	if !h.PricedAt.IsZero() {
		at := h.PricedAt.UTC()
		v.PricedAt = &at
	}
	return v
}

// ListHoldings returns a summary for every symbol with trades.
// GET /api/holdings
func (h *HoldingsHandler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.trades.AllHoldings(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list holdings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "failed to list holdings")
		return
	}
	out := make([]holdingView, 0, len(holdings))
	for _, hd := range holdings {
		out = append(out, newHoldingView(hd))
	}
	writeJSON(w, http.StatusOK, map[string]any{"holdings": out})
}

// GetHolding returns the summary of one symbol.
// GET /api/holdings/{symbol}
func (h *HoldingsHandler) GetHolding(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(pathParam(r, "symbol"))
	hd, err := h.trades.Holdings(r.Context(), symbol)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "no trades for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get holding failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "failed to compute holding")
		return
	}
	writeJSON(w, http.StatusOK, newHoldingView(hd))
}
