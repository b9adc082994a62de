// Package state holds the job lifecycle state machine: the transition
// table, the lock-status projection and the log-event constructors that the
// jobs and sessions services share.
package state

import (
	"fmt"
	"time"

	"github.com/ternarybob/lodestar/internal/models"
)

// transitions is the set of accepted (from, to) edges. FAILED and
// RESTART_READY are reachable from every non-terminal state and handled in
// Allowed rather than enumerated here.
var transitions = map[models.JobState][]models.JobState{
	models.JobCreated:         {models.JobStagedIn},
	models.JobStagedIn:        {models.JobReady, models.JobAwaitingParents, models.JobPreprocessed},
	models.JobAwaitingParents: {models.JobReady},
	models.JobReady:           {models.JobPreprocessed},
	models.JobPreprocessed:    {models.JobRunning},
	models.JobRunning:         {models.JobRunDone, models.JobRunError, models.JobRunTimeout, models.JobPostprocessed},
	models.JobRunDone:         {models.JobPostprocessed, models.JobStagedOut},
	models.JobRunError:        {models.JobPostprocessed, models.JobStagedOut},
	models.JobRunTimeout:      {models.JobPostprocessed, models.JobStagedOut},
	models.JobPostprocessed:   {models.JobStagedOut},
	models.JobStagedOut:       {models.JobFinished},
	models.JobRestartReady:    {models.JobRunning},
}

// Allowed reports whether the state machine accepts the from -> to edge.
// Same-state writes are no-ops and handled by the caller, not here.
func Allowed(from, to models.JobState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == models.JobFailed || to == models.JobRestartReady {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidTransition error when the edge is
// rejected.
func ValidateTransition(from, to models.JobState) error {
	if !Allowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}

// NewEvent builds the LogEvent for one accepted transition. The timestamp
// defaults to now when the client did not propose one.
func NewEvent(job *models.Job, from, to models.JobState, message string, at *time.Time) *models.LogEvent {
	ts := time.Now().UTC()
	if at != nil {
		ts = at.UTC()
	}
	return &models.LogEvent{
		OwnerID:   job.OwnerID,
		JobID:     job.ID,
		Timestamp: ts,
		FromState: from,
		ToState:   to,
		Message:   message,
	}
}

// LockStatus projects a job's state plus lease into the human-readable lock
// token exposed on reads. A job with no session is always Unlocked.
func LockStatus(job *models.Job) string {
	if job.SessionID == nil {
		return models.LockUnlocked
	}
	switch job.State {
	case models.JobStagedIn, models.JobReady, models.JobAwaitingParents:
		return models.LockPreprocessing
	case models.JobPreprocessed, models.JobRestartReady:
		return models.LockAcquired
	case models.JobRunning:
		return models.LockRunning
	case models.JobRunDone, models.JobRunError, models.JobRunTimeout:
		return models.LockStagingOut
	case models.JobPostprocessed:
		return models.LockPostprocessing
	default:
		return models.LockHeld
	}
}

// Acquireable reports whether a job in this state may still be leased.
func Acquireable(s models.JobState) bool {
	return !s.IsTerminal()
}
