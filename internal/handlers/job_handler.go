package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/jobs"
)

// JobHandler handles job API requests: bulk create/update, query-driven
// update and delete, and per-row operations.
type JobHandler struct {
	jobs   *jobs.Service
	logger arbor.ILogger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(service *jobs.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:   service,
		logger: logger,
	}
}

// CollectionHandler routes /jobs: GET list, POST bulk create, PATCH bulk
// update, PUT update-by-query, DELETE delete-by-query.
func (h *JobHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.bulkCreate(w, r)
	case http.MethodPatch:
		h.bulkUpdate(w, r)
	case http.MethodPut:
		h.updateByQuery(w, r)
	case http.MethodDelete:
		h.deleteByQuery(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ItemHandler routes GET/PUT/DELETE on /jobs/{id}.
func (h *JobHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	id, _, ok := PathID(r.URL.Path, "/jobs")
	if !ok {
		WriteError(w, models.NotFoundf("job"))
		return
	}
	ownerID := OwnerID(r)

	switch r.Method {
	case http.MethodGet:
		job, err := h.jobs.Get(r.Context(), ownerID, id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	case http.MethodPut:
		var patch models.JobUpdate
		if !DecodeJSON(w, r, &patch) {
			return
		}
		job, err := h.jobs.Update(r.Context(), ownerID, id, &patch)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		if err := h.jobs.Delete(r.Context(), ownerID, id); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *JobHandler) list(w http.ResponseWriter, r *http.Request) {
	count, results, err := h.jobs.List(r.Context(), OwnerID(r), jobQueryFromRequest(r), GetPaginator(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ListResponse{Count: count, Results: results})
}

func (h *JobHandler) bulkCreate(w http.ResponseWriter, r *http.Request) {
	specs, ok := DecodeJSONList[models.JobCreate](w, r)
	if !ok {
		return
	}
	created, err := h.jobs.BulkCreate(r.Context(), OwnerID(r), specs)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (h *JobHandler) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	patches, ok := DecodeJSONList[models.JobBulkUpdate](w, r)
	if !ok {
		return
	}
	updated, err := h.jobs.BulkUpdate(r.Context(), OwnerID(r), patches)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (h *JobHandler) updateByQuery(w http.ResponseWriter, r *http.Request) {
	var patch models.JobUpdate
	if !DecodeJSON(w, r, &patch) {
		return
	}
	updated, err := h.jobs.UpdateByQuery(r.Context(), OwnerID(r), jobQueryFromRequest(r), &patch)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (h *JobHandler) deleteByQuery(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.jobs.DeleteByQuery(r.Context(), OwnerID(r), jobQueryFromRequest(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func jobQueryFromRequest(r *http.Request) *models.JobQuery {
	q := &models.JobQuery{
		IDs:              queryIDs(r, "id"),
		ParentIDs:        queryIDs(r, "parent_id"),
		AppID:            queryID(r, "app_id"),
		SiteID:           queryID(r, "site_id"),
		BatchJobID:       queryID(r, "batch_job_id"),
		SessionID:        queryID(r, "session_id"),
		LastUpdateBefore: queryTime(r, "last_update_before"),
		LastUpdateAfter:  queryTime(r, "last_update_after"),
		WorkdirContains:  r.URL.Query().Get("workdir"),
		StateNe:          models.JobState(r.URL.Query().Get("state_ne")),
		Tags:             queryTags(r, "tags"),
		Parameters:       queryTags(r, "parameters"),
		OrderBy:          queryStrings(r, "order_by"),
	}
	for _, s := range queryStrings(r, "state") {
		q.States = append(q.States, models.JobState(s))
	}
	return q
}
