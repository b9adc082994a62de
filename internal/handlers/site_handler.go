package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/sites"
)

// SiteHandler handles site API requests.
type SiteHandler struct {
	sites  *sites.Service
	logger arbor.ILogger
}

// NewSiteHandler creates a new site handler.
func NewSiteHandler(service *sites.Service, logger arbor.ILogger) *SiteHandler {
	return &SiteHandler{
		sites:  service,
		logger: logger,
	}
}

// CollectionHandler routes GET (list) and POST (create) on /sites.
func (h *SiteHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ItemHandler routes GET/PUT/DELETE on /sites/{id}.
func (h *SiteHandler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	id, _, ok := PathID(r.URL.Path, "/sites")
	if !ok {
		WriteError(w, models.NotFoundf("site"))
		return
	}
	ownerID := OwnerID(r)

	switch r.Method {
	case http.MethodGet:
		site, err := h.sites.Get(r.Context(), ownerID, id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, site)
	case http.MethodPut:
		var patch models.SiteUpdate
		if !DecodeJSON(w, r, &patch) {
			return
		}
		site, err := h.sites.Update(r.Context(), ownerID, id, &patch)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, site)
	case http.MethodDelete:
		if err := h.sites.Delete(r.Context(), ownerID, id); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SiteHandler) list(w http.ResponseWriter, r *http.Request) {
	q := &models.SiteQuery{
		IDs:          queryIDs(r, "id"),
		Hostname:     r.URL.Query().Get("hostname"),
		PathContains: r.URL.Query().Get("path"),
		OrderBy:      queryStrings(r, "order_by"),
	}
	count, results, err := h.sites.List(r.Context(), OwnerID(r), q, GetPaginator(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ListResponse{Count: count, Results: results})
}

func (h *SiteHandler) create(w http.ResponseWriter, r *http.Request) {
	var spec models.SiteCreate
	if !DecodeJSON(w, r, &spec) {
		return
	}
	site, err := h.sites.Create(r.Context(), OwnerID(r), &spec)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, site)
}
