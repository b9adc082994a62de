package models

// AppBackend binds an App to a Site with an executor class name.
// SiteHostname and SitePath are denormalized from the Site at write time and
// exposed read-only.
type AppBackend struct {
	SiteID       uint64 `json:"site_id" validate:"required"`
	ClassName    string `json:"class_name" validate:"required"`
	SiteHostname string `json:"site_hostname,omitempty"`
	SitePath     string `json:"site_path,omitempty"`
}

// App is a logical computation registered at one or more Sites. Name is
// unique per owner. Parameters is the ordered list of parameter names a Job
// must supply. Updating backends replaces the whole set.
type App struct {
	ID         uint64       `json:"id" badgerhold:"key"`
	OwnerID    uint64       `json:"-" badgerhold:"index"`
	Name       string       `json:"name" badgerhold:"index"`
	Backends   []AppBackend `json:"backends"`
	Parameters []string     `json:"parameters"`
}

// AppCreate is the POST /apps payload.
type AppCreate struct {
	Name       string       `json:"name" validate:"required"`
	Backends   []AppBackend `json:"backends" validate:"required,min=1,dive"`
	Parameters []string     `json:"parameters"`
}

// AppUpdate is the PUT /apps/{id} payload. Nil fields are left unchanged.
type AppUpdate struct {
	Name       *string      `json:"name,omitempty"`
	Backends   []AppBackend `json:"backends,omitempty"`
	Parameters []string     `json:"parameters,omitempty"`
}

// AppMerge is the POST /apps/merge payload: combine same-owner apps into one
// carrying the union of their backends.
type AppMerge struct {
	Name   string   `json:"name" validate:"required"`
	AppIDs []uint64 `json:"app_ids" validate:"required,min=2"`
}
