package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/lodestar/internal/models"
)

var validate = validator.New()

type contextKey string

// OwnerKey carries the authenticated owner id on the request context.
const OwnerKey contextKey = "owner_id"

// OwnerID returns the owner id the auth middleware resolved for the request.
func OwnerID(r *http.Request) uint64 {
	id, _ := r.Context().Value(OwnerKey).(uint64)
	return id
}

// WithOwner returns a context carrying the owner id.
func WithOwner(ctx context.Context, ownerID uint64) context.Context {
	return context.WithValue(ctx, OwnerKey, ownerID)
}

// ListResponse is the envelope for every list endpoint: the filtered total
// and one page of results.
type ListResponse struct {
	Count   int         `json:"count"`
	Results interface{} `json:"results"`
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps a service error to its HTTP status and the
// {detail, kind} body.
func WriteError(w http.ResponseWriter, err error) error {
	return WriteJSON(w, statusFor(err), map[string]string{
		"detail": err.Error(),
		"kind":   models.ErrorKind(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrMultipleObjects):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, models.ErrAuth):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON reads the request body into dst and runs struct validation.
// Schema failures surface as 422, validation failures as 400.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"detail": err.Error(),
			"kind":   "ValidationError",
		})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		WriteError(w, models.Validationf("%s", err.Error()))
		return false
	}
	return true
}

// DecodeJSONList reads a JSON array body into dst and validates each
// element.
func DecodeJSONList[T any](w http.ResponseWriter, r *http.Request) ([]T, bool) {
	var items []T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&items); err != nil {
		WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"detail": err.Error(),
			"kind":   "ValidationError",
		})
		return nil, false
	}
	for i := range items {
		if err := validate.Struct(&items[i]); err != nil {
			WriteError(w, models.Validationf("item %d: %s", i, err.Error()))
			return nil, false
		}
	}
	return items, true
}

// PathID extracts the numeric id segment after prefix, e.g. /jobs/42.
// The remainder past the id (sub-resource like /acquire) is returned too.
func PathID(path, prefix string) (uint64, string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return 0, "", false
	}
	idPart := rest
	tail := ""
	if i := strings.Index(rest, "/"); i >= 0 {
		idPart = rest[:i]
		tail = rest[i+1:]
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, tail, true
}

// Paginator bounds. Set from config at wiring time.
var (
	MaxPageLimit     = 512
	DefaultPageLimit = 100
)

// GetPaginator extracts offset and limit query params, clamping the limit.
func GetPaginator(r *http.Request) *models.Paginator {
	p := &models.Paginator{Limit: DefaultPageLimit}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// queryIDs parses a repeated or comma-separated uint64 query param.
func queryIDs(r *http.Request, name string) []uint64 {
	var out []uint64
	for _, raw := range r.URL.Query()[name] {
		for _, part := range strings.Split(raw, ",") {
			if part == "" {
				continue
			}
			if id, err := strconv.ParseUint(part, 10, 64); err == nil {
				out = append(out, id)
			}
		}
	}
	return out
}

// queryID parses a single uint64 query param, zero when absent.
func queryID(r *http.Request, name string) uint64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	id, _ := strconv.ParseUint(v, 10, 64)
	return id
}

// queryTime parses an RFC 3339 query param.
func queryTime(r *http.Request, name string) *time.Time {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

// queryStrings splits a repeated or comma-separated string query param.
func queryStrings(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, part := range strings.Split(raw, ",") {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// queryTags parses repeated key:value params into a map.
func queryTags(r *http.Request, name string) map[string]string {
	tags := map[string]string{}
	for _, raw := range r.URL.Query()[name] {
		for _, part := range strings.Split(raw, ",") {
			kv := strings.SplitN(part, ":", 2)
			if len(kv) == 2 && kv[0] != "" {
				tags[kv[0]] = kv[1]
			}
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
