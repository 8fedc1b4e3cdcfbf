package handler

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

// StopLedger is the read side of the trailing-stop ledger.
type StopLedger interface {
	Snapshot() []domain.PositionState
	Position(symbol string) (domain.PositionState, bool)
}

// StopsHandler serves the trailing-stop ledger.
type StopsHandler struct {
	ledger StopLedger
}

// NewStopsHandler creates a StopsHandler.
func NewStopsHandler(ledger StopLedger) *StopsHandler {
	return &StopsHandler{ledger: ledger}
}

type stopView struct {
	Symbol             string      `json:"symbol"`
	Side               domain.Side `json:"side"`
	EntryPrice         string      `json:"entry_price"`
	Extremum           string      `json:"extremum"`
	AccelerationFactor string      `json:"acceleration_factor"`
	CurrentStop        string      `json:"current_stop"`
	StopOrderID        string      `json:"stop_order_id"`
	TrailingActivated  bool        `json:"trailing_activated"`
}

func newStopView(st domain.PositionState) stopView {
	return stopView{
		Symbol:             st.Symbol,
		Side:               st.Side,
		EntryPrice:         st.EntryPrice.String(),
		Extremum:           st.Extremum.String(),
		AccelerationFactor: st.AccelerationFactor.String(),
		CurrentStop:        st.CurrentStop.String(),
		StopOrderID:        st.StopOrderID,
		TrailingActivated:  st.TrailingActivated,
	}
}

// ListStops returns every tracked position.
// GET /api/stops
func (h *StopsHandler) ListStops(w http.ResponseWriter, r *http.Request) {
	snap := h.ledger.Snapshot()
	out := make([]stopView, 0, len(snap))
	for _, st := range snap {
		out = append(out, newStopView(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"stops": out})
}

// GetStop returns one tracked position.
// GET /api/stops/{symbol}
func (h *StopsHandler) GetStop(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(pathParam(r, "symbol"))
	st, ok := h.ledger.Position(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "symbol is not tracked")
		return
	}
	writeJSON(w, http.StatusOK, newStopView(st))
}
