package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
)

// EventHandler serves the append-only log-event trail. Read-only: events
// are written exclusively by job state transitions.
type EventHandler struct {
	events interfaces.EventStorage
	logger arbor.ILogger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(events interfaces.EventStorage, logger arbor.ILogger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// CollectionHandler routes GET on /events.
func (h *EventHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := &models.EventQuery{
		JobIDs:          queryIDs(r, "job_id"),
		MessageContains: r.URL.Query().Get("message"),
		TimestampBefore: queryTime(r, "timestamp_before"),
		TimestampAfter:  queryTime(r, "timestamp_after"),
		OrderBy:         queryStrings(r, "order_by"),
	}
	for _, s := range queryStrings(r, "to_state") {
		q.ToStates = append(q.ToStates, models.JobState(s))
	}
	for _, s := range queryStrings(r, "from_state") {
		q.FromStates = append(q.FromStates, models.JobState(s))
	}

	count, results, err := h.events.Find(r.Context(), OwnerID(r), q, GetPaginator(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ListResponse{Count: count, Results: results})
}
