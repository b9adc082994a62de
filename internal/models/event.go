package models

import "time"

// LogEvent is an immutable record of one job state transition. Events are
// append-only: the HTTP surface exposes reads only. The per-transition
// message and timestamp live here, never on the Job row.
type LogEvent struct {
	ID        uint64    `json:"id" badgerhold:"key"`
	OwnerID   uint64    `json:"-" badgerhold:"index"`
	JobID     uint64    `json:"job_id" badgerhold:"index"`
	Timestamp time.Time `json:"timestamp"`
	FromState JobState  `json:"from_state"`
	ToState   JobState  `json:"to_state"`
	Message   string    `json:"message"`
}
