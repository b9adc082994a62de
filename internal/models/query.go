package models

import "time"

// Paginator bounds a list query. Limit is clamped to the configured maximum
// by the handlers before it reaches storage.
type Paginator struct {
	Offset int
	Limit  int
}

// JobQuery is the typed filter surface for the jobs collection. Zero-value
// fields are ignored; populated fields compose with AND semantics. OrderBy
// entries are signed column names (leading '-' means descending); the
// default order is id ascending.
type JobQuery struct {
	IDs              []uint64
	ParentIDs        []uint64
	AppID            uint64
	SiteID           uint64
	BatchJobID       uint64
	SessionID        uint64
	LastUpdateBefore *time.Time
	LastUpdateAfter  *time.Time
	WorkdirContains  string
	States           []JobState
	StateNe          JobState
	Tags             map[string]string
	Parameters       map[string]string
	OrderBy          []string
}

// EventQuery filters the append-only log-event collection. Default order is
// timestamp ascending with ties broken by event id.
type EventQuery struct {
	JobIDs          []uint64
	ToStates        []JobState
	FromStates      []JobState
	MessageContains string
	TimestampBefore *time.Time
	TimestampAfter  *time.Time
	OrderBy         []string
}

// BatchJobQuery filters the batch-job collection.
type BatchJobQuery struct {
	SiteIDs     []uint64
	States      []BatchState
	SchedulerID *int64
	FilterTags  map[string]string
	OrderBy     []string
}

// SiteQuery filters the site collection.
type SiteQuery struct {
	IDs          []uint64
	Hostname     string
	PathContains string
	OrderBy      []string
}

// AppQuery filters the app collection.
type AppQuery struct {
	IDs          []uint64
	Name         string
	SiteID       uint64
	SiteHostname string
	OrderBy      []string
}
