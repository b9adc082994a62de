package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/transfers"
)

// TransferHandler handles transfer-item API requests.
type TransferHandler struct {
	transfers *transfers.Service
	logger    arbor.ILogger
}

// NewTransferHandler creates a new transfer handler.
func NewTransferHandler(service *transfers.Service, logger arbor.ILogger) *TransferHandler {
	return &TransferHandler{
		transfers: service,
		logger:    logger,
	}
}

// CollectionHandler routes GET on /transfers.
func (h *TransferHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobIDs := queryIDs(r, "job_id")
	state := models.TransferState(r.URL.Query().Get("state"))
	count, results, err := h.transfers.List(r.Context(), OwnerID(r), jobIDs, state, GetPaginator(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ListResponse{Count: count, Results: results})
}

// ItemHandler routes GET/PATCH on /transfers/{id}.
func (h *TransferHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	id, _, ok := PathID(r.URL.Path, "/transfers")
	if !ok {
		WriteError(w, models.NotFoundf("transfer item"))
		return
	}
	ownerID := OwnerID(r)

	switch r.Method {
	case http.MethodGet:
		item, err := h.transfers.Get(r.Context(), ownerID, id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		var patch models.TransferItemUpdate
		if !DecodeJSON(w, r, &patch) {
			return
		}
		item, err := h.transfers.Update(r.Context(), ownerID, id, &patch)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, item)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
