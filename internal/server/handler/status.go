package handler

import (
	"net/http"

	"github.com/alanyoungcy/trailstop/internal/service"
)

// CycleReporter exposes the outcome of the last reconciliation cycle.
type CycleReporter interface {
	Status() service.CycleStatus
}

// StatusHandler serves the process mode and, when a reconciler runs in this
// process, its last cycle.
type StatusHandler struct {
	Mode  string
	Venue string
	cycle CycleReporter
}

// NewStatusHandler creates a StatusHandler. cycle may be nil.
func NewStatusHandler(mode, venue string, cycle CycleReporter) *StatusHandler {
	return &StatusHandler{Mode: mode, Venue: venue, cycle: cycle}
}

// GetStatus responds with the run mode, the venue and the last cycle.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":  h.Mode,
		"venue": h.Venue,
	}
	if h.cycle != nil {
		st := h.cycle.Status()
		if st.CycleID != "" {
			resp["last_cycle"] = st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
