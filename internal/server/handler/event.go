package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// EventHandler serves the ordered event log.
type EventHandler struct {
	log    domain.EventLog
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(log domain.EventLog, logger *slog.Logger) *EventHandler {
	return &EventHandler{log: log, logger: logHandler(logger, "event")}
}

// ListEvents returns events with a sequence number greater than after.
// GET /api/events?after=&limit=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}
	opts := parseListOpts(r)

	events, err := h.log.EventsAfter(r.Context(), after, opts.Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, toEventView(e))
	}
	writeJSON(w, http.StatusOK, out)
}
