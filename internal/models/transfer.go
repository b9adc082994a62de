package models

import "time"

// TransferState is the lifecycle of a single stage-in/stage-out item.
type TransferState string

const (
	TransferPending TransferState = "pending"
	TransferActive  TransferState = "active"
	TransferDone    TransferState = "done"
	TransferError   TransferState = "error"
)

// TransferDirection distinguishes stage-in from stage-out.
type TransferDirection string

const (
	TransferIn  TransferDirection = "in"
	TransferOut TransferDirection = "out"
)

// TransferItem is a file-movement record attached to a Job. Items are
// created alongside the parent Job and destroyed with it; only state,
// task id and status message are mutable afterwards.
type TransferItem struct {
	ID             uint64            `json:"id" badgerhold:"key"`
	OwnerID        uint64            `json:"-" badgerhold:"index"`
	JobID          uint64            `json:"job_id" badgerhold:"index"`
	Direction      TransferDirection `json:"direction"`
	LocationAlias  string            `json:"location_alias"`
	RemotePath     string            `json:"remote_path"`
	LocalPath      string            `json:"local_path"`
	State          TransferState     `json:"state" badgerhold:"index"`
	StateTimestamp time.Time         `json:"state_timestamp"`
	TaskID         string            `json:"task_id,omitempty"`
}

// TransferItemCreate declares a transfer on a JobCreate payload.
type TransferItemCreate struct {
	Direction     TransferDirection `json:"direction" validate:"required,oneof=in out"`
	LocationAlias string            `json:"location_alias" validate:"required"`
	RemotePath    string            `json:"remote_path" validate:"required"`
	LocalPath     string            `json:"local_path" validate:"required"`
}

// TransferItemUpdate is the PATCH /transfers/{id} payload.
type TransferItemUpdate struct {
	State  *TransferState `json:"state,omitempty"`
	TaskID *string        `json:"task_id,omitempty"`
}
