package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

// TradeService defines the methods that the trade and holdings handlers
// require.
type TradeService interface {
	RecordTrade(ctx context.Context, trade domain.TradeRecord) (domain.TradeRecord, error)
	ImportTrades(ctx context.Context, trades []domain.TradeRecord) (int, error)
	ListTrades(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error)
	Holdings(ctx context.Context, symbol string) (domain.Holding, error)
	AllHoldings(ctx context.Context) ([]domain.Holding, error)
}

// TradeHandler serves the spot trade ledger.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logHandler(logger, "trades")}
}

type tradeView struct {
	ID        int64            `json:"id"`
	Symbol    string           `json:"symbol"`
	Type      domain.TradeType `json:"type"`
	Price     decimal.Decimal  `json:"price"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Fee       decimal.Decimal  `json:"fee"`
	Timestamp time.Time        `json:"timestamp"`
}

func newTradeView(t domain.TradeRecord) tradeView {
	return tradeView{
		ID:        t.ID,
		Symbol:    t.Symbol,
		Type:      t.Type,
		Price:     t.Price,
		Quantity:  t.Quantity,
		Fee:       t.Fee,
		Timestamp: t.Timestamp,
	}
}

// recordTradeRequest is the body of POST /api/trades. Decimals may be sent as
// JSON strings or numbers; the timestamp defaults to now.
type recordTradeRequest struct {
	Symbol    string          `json:"symbol"`
	Type      string          `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp *time.Time      `json:"timestamp"`
}

func (req recordTradeRequest) record(now time.Time) (domain.TradeRecord, error) {
	tradeType, err := domain.ParseTradeType(req.Type)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	ts := now
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	return domain.TradeRecord{
		Symbol:    strings.TrimSpace(req.Symbol),
		Type:      tradeType,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Fee:       req.Fee,
		Timestamp: ts,
	}, nil
}

// maxImportTrades caps one POST /api/trades/batch body.
const maxImportTrades = 1000

// ListTrades returns the trades of one symbol in timestamp order.
// GET /api/trades?symbol=BTC&limit=50&offset=0&since=...&until=...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trades, err := h.trades.ListTrades(r.Context(), symbol, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "failed to list trades")
		return
	}

	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, newTradeView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// RecordTrade appends one trade to the ledger.
// POST /api/trades
func (h *TradeHandler) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var req recordTradeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	trade, err := req.record(time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.trades.RecordTrade(r.Context(), trade)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: record trade failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "failed to record trade")
		return
	}
	writeJSON(w, http.StatusCreated, newTradeView(saved))
}

// ImportTrades appends a batch of trades atomically.
// POST /api/trades/batch
func (h *TradeHandler) ImportTrades(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Trades []recordTradeRequest `json:"trades"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<22))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Trades) == 0 || len(req.Trades) > maxImportTrades {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("trades must hold 1 to %d entries", maxImportTrades))
		return
	}

	now := time.Now().UTC()
	trades := make([]domain.TradeRecord, 0, len(req.Trades))
	for i, tr := range req.Trades {
		rec, err := tr.record(now)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("trade %d: %v", i, err))
			return
		}
		trades = append(trades, rec)
	}

	n, err := h.trades.ImportTrades(r.Context(), trades)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: import trades failed",
			slog.Int("count", len(trades)),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "failed to import trades")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"imported": n})
}
