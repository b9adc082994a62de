package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/apps"
)

// AppHandler handles app API requests.
type AppHandler struct {
	apps   *apps.Service
	logger arbor.ILogger
}

// NewAppHandler creates a new app handler.
func NewAppHandler(service *apps.Service, logger arbor.ILogger) *AppHandler {
	return &AppHandler{
		apps:   service,
		logger: logger,
	}
}

// CollectionHandler routes GET (list) and POST (create) on /apps.
func (h *AppHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// MergeHandler handles POST /apps/merge.
func (h *AppHandler) MergeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var spec models.AppMerge
	if !DecodeJSON(w, r, &spec) {
		return
	}
	merged, err := h.apps.Merge(r.Context(), OwnerID(r), &spec)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, merged)
}

// ItemHandler routes GET/PUT/DELETE on /apps/{id}.
func (h *AppHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	id, _, ok := PathID(r.URL.Path, "/apps")
	if !ok {
		WriteError(w, models.NotFoundf("app"))
		return
	}
	ownerID := OwnerID(r)

	switch r.Method {
	case http.MethodGet:
		app, err := h.apps.Get(r.Context(), ownerID, id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, app)
	case http.MethodPut:
		var patch models.AppUpdate
		if !DecodeJSON(w, r, &patch) {
			return
		}
		app, err := h.apps.Update(r.Context(), ownerID, id, &patch)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, app)
	case http.MethodDelete:
		if err := h.apps.Delete(r.Context(), ownerID, id); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AppHandler) list(w http.ResponseWriter, r *http.Request) {
	q := &models.AppQuery{
		IDs:          queryIDs(r, "id"),
		Name:         r.URL.Query().Get("name"),
		SiteID:       queryID(r, "site_id"),
		SiteHostname: r.URL.Query().Get("site_hostname"),
		OrderBy:      queryStrings(r, "order_by"),
	}
	count, results, err := h.apps.List(r.Context(), OwnerID(r), q, GetPaginator(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ListResponse{Count: count, Results: results})
}

func (h *AppHandler) create(w http.ResponseWriter, r *http.Request) {
	var spec models.AppCreate
	if !DecodeJSON(w, r, &spec) {
		return
	}
	app, err := h.apps.Create(r.Context(), OwnerID(r), &spec)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, app)
}
