package models

import "time"

// JobState is a token in the job lifecycle state machine.
type JobState string

const (
	JobCreated         JobState = "CREATED"
	JobStagedIn        JobState = "STAGED_IN"
	JobAwaitingParents JobState = "AWAITING_PARENTS"
	JobReady           JobState = "READY"
	JobPreprocessed    JobState = "PREPROCESSED"
	JobRunning         JobState = "RUNNING"
	JobRunDone         JobState = "RUN_DONE"
	JobRunError        JobState = "RUN_ERROR"
	JobRunTimeout      JobState = "RUN_TIMEOUT"
	JobPostprocessed   JobState = "POSTPROCESSED"
	JobStagedOut       JobState = "STAGED_OUT"
	JobFinished        JobState = "JOB_FINISHED"
	JobFailed          JobState = "FAILED"
	JobRestartReady    JobState = "RESTART_READY"
)

// Lock status tokens. A human-readable projection of state plus whether a
// session holds the job.
const (
	LockUnlocked       = "Unlocked"
	LockPreprocessing  = "Preprocessing"
	LockAcquired       = "Acquired by launcher"
	LockRunning        = "Running"
	LockPostprocessing = "Postprocessing"
	LockStagingOut     = "Staging out"
	LockHeld           = "Locked"
)

// Job is a single computation instance scheduled against an App. Workdir is
// unique per site. SessionID is non-nil iff a launcher session holds the
// lease. StateMessage and StateTimestamp never persist on the row: they ride
// along on writes and land in the LogEvent trail only.
type Job struct {
	ID               uint64            `json:"id" badgerhold:"key"`
	OwnerID          uint64            `json:"-" badgerhold:"index"`
	SiteID           uint64            `json:"site_id" badgerhold:"index"`
	AppID            uint64            `json:"app_id" badgerhold:"index"`
	Workdir          string            `json:"workdir"`
	Parameters       map[string]string `json:"parameters"`
	Tags             map[string]string `json:"tags,omitempty"`
	ParentIDs        []uint64          `json:"parents,omitempty"`
	RanksPerNode     int               `json:"ranks_per_node"`
	ThreadsPerRank   int               `json:"threads_per_rank"`
	NodePackingCount int               `json:"node_packing_count"`
	WallTimeMin      int               `json:"wall_time_min"`
	GPUsPerRank      float64           `json:"gpus_per_rank"`
	LaunchParams     map[string]string `json:"launch_params,omitempty"`
	State            JobState          `json:"state" badgerhold:"index"`
	BatchJobID       *uint64           `json:"batch_job_id,omitempty"`
	SessionID        *uint64           `json:"session_id,omitempty"`
	ReturnCode       *int              `json:"return_code,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	LastUpdate       time.Time         `json:"last_update"`

	// Read-only wire fields, never stored with content (see services/state).
	StateMessage   string     `json:"state_message"`
	StateTimestamp *time.Time `json:"state_timestamp"`
	LockStatus     string     `json:"lock_status"`
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s JobState) IsTerminal() bool {
	return s == JobFinished || s == JobFailed
}

// JobCreate is one element of the POST /jobs payload (bulk create).
type JobCreate struct {
	Workdir          string               `json:"workdir" validate:"required"`
	AppID            uint64               `json:"app_id" validate:"required"`
	Parameters       map[string]string    `json:"parameters"`
	Tags             map[string]string    `json:"tags"`
	ParentIDs        []uint64             `json:"parents"`
	RanksPerNode     int                  `json:"ranks_per_node"`
	ThreadsPerRank   int                  `json:"threads_per_rank"`
	NodePackingCount int                  `json:"node_packing_count"`
	WallTimeMin      int                  `json:"wall_time_min"`
	GPUsPerRank      float64              `json:"gpus_per_rank"`
	LaunchParams     map[string]string    `json:"launch_params"`
	Transfers        []TransferItemCreate `json:"transfers" validate:"dive"`
}

// JobUpdate carries the writable job fields. Nil / absent fields are left
// unchanged; the server always overwrites last_update.
type JobUpdate struct {
	Workdir          *string           `json:"workdir,omitempty"`
	Parameters       map[string]string `json:"parameters,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
	ParentIDs        []uint64          `json:"parents,omitempty"`
	RanksPerNode     *int              `json:"ranks_per_node,omitempty"`
	ThreadsPerRank   *int              `json:"threads_per_rank,omitempty"`
	NodePackingCount *int              `json:"node_packing_count,omitempty"`
	WallTimeMin      *int              `json:"wall_time_min,omitempty"`
	GPUsPerRank      *float64          `json:"gpus_per_rank,omitempty"`
	LaunchParams     map[string]string `json:"launch_params,omitempty"`
	State            *JobState         `json:"state,omitempty"`
	StateMessage     *string           `json:"state_message,omitempty"`
	StateTimestamp   *time.Time        `json:"state_timestamp,omitempty"`
	ReturnCode       *int              `json:"return_code,omitempty"`
	BatchJobID       *uint64           `json:"batch_job_id,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
}

// JobBulkUpdate is one element of the PATCH /jobs payload: a patch keyed by
// job id.
type JobBulkUpdate struct {
	ID uint64 `json:"id" validate:"required"`
	JobUpdate
}

// JobBundle groups a new job with the rows born alongside it. The storage
// layer stamps the job's assigned id onto the events and transfer items
// before committing, all in one transaction.
type JobBundle struct {
	Job       *Job
	Events    []*LogEvent
	Transfers []*TransferItem
}
