package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/sessions"
)

// SessionHandler handles session API requests: open, close, heartbeat tick
// and job acquisition.
type SessionHandler struct {
	sessions *sessions.Service
	logger   arbor.ILogger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(service *sessions.Service, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		sessions: service,
		logger:   logger,
	}
}

// CollectionHandler routes POST on /sessions.
func (h *SessionHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var spec models.SessionCreate
	if !DecodeJSON(w, r, &spec) {
		return
	}
	sess, err := h.sessions.Create(r.Context(), OwnerID(r), &spec)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sess)
}

// ItemHandler routes /sessions/{id} (DELETE), /sessions/{id}/ticks (PUT)
// and /sessions/{id}/acquire (POST).
func (h *SessionHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	id, tail, ok := PathID(r.URL.Path, "/sessions")
	if !ok {
		WriteError(w, models.NotFoundf("session"))
		return
	}
	ownerID := OwnerID(r)

	switch {
	case tail == "" && r.Method == http.MethodDelete:
		if err := h.sessions.Delete(r.Context(), ownerID, id); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case tail == "ticks" && r.Method == http.MethodPut:
		sess, err := h.sessions.Tick(r.Context(), ownerID, id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sess)
	case tail == "acquire" && r.Method == http.MethodPost:
		var spec models.AcquireSpec
		if !DecodeJSON(w, r, &spec) {
			return
		}
		acquired, err := h.sessions.Acquire(r.Context(), ownerID, id, &spec)
		if err != nil {
			WriteError(w, err)
			return
		}
		if acquired == nil {
			acquired = []*models.Job{}
		}
		WriteJSON(w, http.StatusOK, acquired)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
