// Package sessions implements the launcher lease scope: session lifecycle,
// heartbeat expiry and the atomic job acquisition engine with optional
// node-resource bin-packing.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	svcjobs "github.com/ternarybob/lodestar/internal/services/jobs"
)

// Service manages sessions and their leases. Acquire calls serialize on a
// single mutex so two sessions can never lease the same job.
type Service struct {
	mu       sync.Mutex
	sessions interfaces.SessionStorage
	jobs     interfaces.JobStorage
	batches  interfaces.BatchJobStorage
	notifier interfaces.Notifier
	logger   arbor.ILogger
}

// NewService creates a new session service.
func NewService(sessions interfaces.SessionStorage, jobs interfaces.JobStorage, batches interfaces.BatchJobStorage, notifier interfaces.Notifier, logger arbor.ILogger) *Service {
	return &Service{
		sessions: sessions,
		jobs:     jobs,
		batches:  batches,
		notifier: notifier,
		logger:   logger,
	}
}

// Create opens a session at a site, optionally bound to a batch job.
func (s *Service) Create(ctx context.Context, ownerID uint64, spec *models.SessionCreate) (*models.Session, error) {
	if spec.BatchJobID != nil {
		if _, err := s.batches.Get(ctx, ownerID, *spec.BatchJobID); err != nil {
			return nil, err
		}
	}
	sess := &models.Session{
		OwnerID:    ownerID,
		SiteID:     spec.SiteID,
		BatchJobID: spec.BatchJobID,
		Heartbeat:  time.Now().UTC(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("session_id", int64(sess.ID)).Int64("site_id", int64(sess.SiteID)).Msg("Session opened")
	return sess, nil
}

// Tick refreshes the session heartbeat.
func (s *Service) Tick(ctx context.Context, ownerID, id uint64) (*models.Session, error) {
	sess, err := s.sessions.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	sess.Heartbeat = time.Now().UTC()
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Acquire leases up to spec.MaxNumAcquire jobs to the session. Selection,
// binding and the session-ref write happen under the engine mutex and commit
// in one storage transaction.
func (s *Service) Acquire(ctx context.Context, ownerID, id uint64, spec *models.AcquireSpec) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessions.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	var batchJob *models.BatchJob
	if sess.BatchJobID != nil {
		if batchJob, err = s.batches.Get(ctx, ownerID, *sess.BatchJobID); err != nil {
			return nil, err
		}
	}

	_, candidates, err := s.jobs.Find(ctx, ownerID, &models.JobQuery{
		SiteID:  sess.SiteID,
		States:  spec.States,
		Tags:    spec.FilterTags,
		OrderBy: spec.OrderBy,
	}, nil)
	if err != nil {
		return nil, err
	}

	var packer *binPacker
	if spec.NodeResources != nil {
		packer = newBinPacker(spec.NodeResources)
	}

	var acquired []*models.Job
	implicit := false
	for _, job := range candidates {
		if len(acquired) >= spec.MaxNumAcquire {
			break
		}
		if job.SessionID != nil {
			continue
		}
		bind, ok := bindable(job, batchJob, spec.AcquireUnbound)
		if !ok {
			continue
		}
		if packer != nil && !packer.place(job) {
			continue
		}

		job.SessionID = &sess.ID
		if bind {
			job.BatchJobID = sess.BatchJobID
			sess.ImplicitJobIDs = append(sess.ImplicitJobIDs, job.ID)
			implicit = true
		}
		job.LastUpdate = time.Now().UTC()
		acquired = append(acquired, job)
	}

	if len(acquired) == 0 {
		return nil, nil
	}
	if err := s.jobs.SaveBatch(ctx, acquired, nil); err != nil {
		return nil, err
	}
	if implicit {
		if err := s.sessions.Update(ctx, sess); err != nil {
			return nil, err
		}
	}

	for _, job := range acquired {
		svcjobs.Project(job)
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkUpdate, interfaces.EntityJob, acquired)
	s.logger.Info().
		Int64("session_id", int64(sess.ID)).
		Int("acquired", len(acquired)).
		Msg("Jobs acquired")
	return acquired, nil
}

// Delete closes a session and releases every job it holds. Released jobs
// keep their state; only the lease clears.
func (s *Service) Delete(ctx context.Context, ownerID, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessions.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.release(ctx, sess); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.Info().Int64("session_id", int64(id)).Msg("Session closed")
	return nil
}

// SweepExpired releases and deletes every session whose heartbeat predates
// the expiry window. Idempotent; safe to run on a schedule.
func (s *Service) SweepExpired(ctx context.Context, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-expiry)
	expired, err := s.sessions.ListExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, sess := range expired {
		if err := s.release(ctx, sess); err != nil {
			return err
		}
		if err := s.sessions.Delete(ctx, sess.OwnerID, sess.ID); err != nil {
			return err
		}
		s.logger.Warn().
			Int64("session_id", int64(sess.ID)).
			Str("heartbeat", sess.Heartbeat.Format(time.RFC3339)).
			Msg("Expired session reaped")
	}
	return nil
}

// release clears the lease on all jobs held by sess. Batch-job bindings made
// implicitly during acquire are also cleared. No state change, no event.
func (s *Service) release(ctx context.Context, sess *models.Session) error {
	_, held, err := s.jobs.Find(ctx, sess.OwnerID, &models.JobQuery{SessionID: sess.ID}, nil)
	if err != nil {
		return err
	}
	if len(held) == 0 {
		return nil
	}

	implicit := map[uint64]bool{}
	for _, id := range sess.ImplicitJobIDs {
		implicit[id] = true
	}
	now := time.Now().UTC()
	for _, job := range held {
		job.SessionID = nil
		if implicit[job.ID] {
			job.BatchJobID = nil
		}
		job.LastUpdate = now
	}
	if err := s.jobs.SaveBatch(ctx, held, nil); err != nil {
		return err
	}

	for _, job := range held {
		svcjobs.Project(job)
	}
	s.notifier.Publish(sess.OwnerID, interfaces.ActionBulkUpdate, interfaces.EntityJob, held)
	return nil
}

// bindable applies the batch-job binding rules. The second return is false
// when the job cannot be acquired at all; the first reports whether the
// acquire binds the job to the session's batch job.
func bindable(job *models.Job, batchJob *models.BatchJob, acquireUnbound bool) (bind, ok bool) {
	if acquireUnbound {
		return false, job.BatchJobID == nil
	}
	if batchJob == nil {
		return false, true
	}
	if job.BatchJobID != nil {
		return false, *job.BatchJobID == batchJob.ID
	}
	if !subsetMatch(job.Tags, batchJob.FilterTags) {
		return false, false
	}
	return true, true
}

func subsetMatch(super, sub map[string]string) bool {
	for k, v := range sub {
		if got, ok := super[k]; !ok || got != v {
			return false
		}
	}
	return true
}
