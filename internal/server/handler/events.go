package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

// StreamReader reads a durable event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler pages through the reconciler's durable event stream so that
// clients can catch up on what they missed over the WebSocket.
type EventsHandler struct {
	stream StreamReader
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(stream StreamReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{stream: stream, logger: logHandler(logger, "events")}
}

type eventView struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns up to limit stream entries after the given id. Pass the
// returned next id as after to continue.
// GET /api/events?after=0&limit=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 1000)
		}
	}

	msgs, err := h.stream.StreamRead(r.Context(), domain.StreamEvents, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read event stream failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "failed to read events")
		return
	}

	next := after
	out := make([]eventView, 0, len(msgs))
	for _, m := range msgs {
		next = m.ID
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, eventView{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "next": next})
}
