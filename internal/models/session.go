package models

import "time"

// Session is a launcher's lease scope at a Site, optionally bound to a
// BatchJob allocation. Jobs acquired through a session carry its id in
// Job.SessionID until the session ticks out or is closed.
type Session struct {
	ID         uint64    `json:"id" badgerhold:"key"`
	OwnerID    uint64    `json:"-" badgerhold:"index"`
	SiteID     uint64    `json:"site_id" badgerhold:"index"`
	BatchJobID *uint64   `json:"batch_job_id,omitempty"`
	Heartbeat  time.Time `json:"heartbeat"`

	// Jobs bound to the session's batch job during acquire rather than by
	// the client. Release clears BatchJobID only for these.
	ImplicitJobIDs []uint64 `json:"-"`
}

// SessionCreate is the POST /sessions payload.
type SessionCreate struct {
	SiteID     uint64  `json:"site_id" validate:"required"`
	BatchJobID *uint64 `json:"batch_job_id,omitempty"`
}

// NodeResources is a snapshot of the launcher's node pool used for
// bin-packed acquisition. The four slices are parallel, one entry per node.
type NodeResources struct {
	MaxJobsPerNode   int       `json:"max_jobs_per_node"`
	MaxWallTimeMin   int       `json:"max_wall_time_min"`
	RunningJobCounts []int     `json:"running_job_counts"`
	NodeOccupancies  []float64 `json:"node_occupancies"`
	IdleCores        []int     `json:"idle_cores"`
	IdleGPUs         []float64 `json:"idle_gpus"`
}

// AcquireSpec is the POST /sessions/{id}/acquire payload.
type AcquireSpec struct {
	AcquireUnbound bool              `json:"acquire_unbound"`
	States         []JobState        `json:"states" validate:"required,min=1"`
	MaxNumAcquire  int               `json:"max_num_acquire" validate:"required,min=1"`
	FilterTags     map[string]string `json:"filter_tags,omitempty"`
	NodeResources  *NodeResources    `json:"node_resources,omitempty"`
	OrderBy        []string          `json:"order_by,omitempty"`
}
