package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/batchjobs"
)

// BatchJobHandler handles batch-job API requests.
type BatchJobHandler struct {
	batches *batchjobs.Service
	logger  arbor.ILogger
}

// NewBatchJobHandler creates a new batch-job handler.
func NewBatchJobHandler(service *batchjobs.Service, logger arbor.ILogger) *BatchJobHandler {
	return &BatchJobHandler{
		batches: service,
		logger:  logger,
	}
}

// CollectionHandler routes /batch-jobs: GET list, POST create, PATCH bulk
// update. The collection has no DELETE.
func (h *BatchJobHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	case http.MethodPatch:
		h.bulkUpdate(w, r)
	case http.MethodDelete:
		WriteError(w, h.batches.DeleteByQuery(r.Context(), OwnerID(r), nil))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ItemHandler routes GET/PUT/DELETE on /batch-jobs/{id}.
func (h *BatchJobHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	id, _, ok := PathID(r.URL.Path, "/batch-jobs")
	if !ok {
		WriteError(w, models.NotFoundf("batch job"))
		return
	}
	ownerID := OwnerID(r)

	switch r.Method {
	case http.MethodGet:
		bj, err := h.batches.Get(r.Context(), ownerID, id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, bj)
	case http.MethodPut:
		var patch models.BatchJobUpdate
		if !DecodeJSON(w, r, &patch) {
			return
		}
		bj, err := h.batches.Update(r.Context(), ownerID, id, &patch)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, bj)
	case http.MethodDelete:
		if err := h.batches.Delete(r.Context(), ownerID, id); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BatchJobHandler) list(w http.ResponseWriter, r *http.Request) {
	q := &models.BatchJobQuery{
		SiteIDs:    queryIDs(r, "site_id"),
		FilterTags: queryTags(r, "filter_tags"),
		OrderBy:    queryStrings(r, "order_by"),
	}
	for _, s := range queryStrings(r, "state") {
		q.States = append(q.States, models.BatchState(s))
	}
	if v := r.URL.Query().Get("scheduler_id"); v != "" {
		if sid := int64(queryID(r, "scheduler_id")); sid != 0 {
			q.SchedulerID = &sid
		}
	}
	count, results, err := h.batches.List(r.Context(), OwnerID(r), q, GetPaginator(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ListResponse{Count: count, Results: results})
}

func (h *BatchJobHandler) create(w http.ResponseWriter, r *http.Request) {
	var spec models.BatchJobCreate
	if !DecodeJSON(w, r, &spec) {
		return
	}
	bj, err := h.batches.Create(r.Context(), OwnerID(r), &spec)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, bj)
}

func (h *BatchJobHandler) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	patches, ok := DecodeJSONList[models.BatchJobBulkUpdate](w, r)
	if !ok {
		return
	}
	updated, err := h.batches.BulkUpdate(r.Context(), OwnerID(r), patches)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}
