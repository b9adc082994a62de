package models

import "time"

// BatchState is the scheduler-side lifecycle of a BatchJob allocation.
type BatchState string

const (
	BatchPendingSubmission BatchState = "pending_submission"
	BatchQueued            BatchState = "queued"
	BatchRunning           BatchState = "running"
	BatchFinished          BatchState = "finished"
	BatchFailed            BatchState = "failed"
	BatchPendingDeletion   BatchState = "pending_deletion"
)

// BatchJob is an allocation request submitted to a Site's scheduler.
// Once the job has been handed to the scheduler the scheduling parameters
// (project, queue, num_nodes, wall_time_min, job_mode) freeze; see the
// reconciler in services/batchjobs for the revert protocol.
type BatchJob struct {
	ID          uint64            `json:"id" badgerhold:"key"`
	OwnerID     uint64            `json:"-" badgerhold:"index"`
	SiteID      uint64            `json:"site_id" badgerhold:"index"`
	Project     string            `json:"project"`
	Queue       string            `json:"queue"`
	NumNodes    int               `json:"num_nodes"`
	WallTimeMin int               `json:"wall_time_min"`
	JobMode     string            `json:"job_mode"`
	FilterTags  map[string]string `json:"filter_tags,omitempty"`
	SchedulerID *int64            `json:"scheduler_id,omitempty"`
	State       BatchState        `json:"state" badgerhold:"index"`
	StatusInfo  map[string]string `json:"status_info,omitempty"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
}

// BatchJobCreate is the POST /batch-jobs payload.
type BatchJobCreate struct {
	SiteID      uint64            `json:"site_id" validate:"required"`
	Project     string            `json:"project" validate:"required"`
	Queue       string            `json:"queue" validate:"required"`
	NumNodes    int               `json:"num_nodes" validate:"required,min=1"`
	WallTimeMin int               `json:"wall_time_min" validate:"required,min=1"`
	JobMode     string            `json:"job_mode" validate:"required"`
	FilterTags  map[string]string `json:"filter_tags"`
}

// BatchJobUpdate carries the writable batch-job fields. Revert acknowledges
// that the server's stored value wins for frozen fields.
type BatchJobUpdate struct {
	Project     *string           `json:"project,omitempty"`
	Queue       *string           `json:"queue,omitempty"`
	NumNodes    *int              `json:"num_nodes,omitempty"`
	WallTimeMin *int              `json:"wall_time_min,omitempty"`
	JobMode     *string           `json:"job_mode,omitempty"`
	SchedulerID *int64            `json:"scheduler_id,omitempty"`
	State       *BatchState       `json:"state,omitempty"`
	StatusInfo  map[string]string `json:"status_info,omitempty"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	Revert      bool              `json:"revert,omitempty"`
}

// BatchJobBulkUpdate is one element of the PATCH /batch-jobs payload.
type BatchJobBulkUpdate struct {
	ID uint64 `json:"id" validate:"required"`
	BatchJobUpdate
}
