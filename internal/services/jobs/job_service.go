// Package jobs implements the bulk mutation service for the job collection:
// create, patch, update-by-query and delete-by-query, each in one storage
// transaction with state-machine validation and log-event synthesis.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/state"
)

// Service coordinates job mutations across storage, the state machine and
// the notifier.
type Service struct {
	jobs     interfaces.JobStorage
	apps     interfaces.AppStorage
	notifier interfaces.Notifier
	logger   arbor.ILogger
}

// NewService creates a new job service.
func NewService(jobs interfaces.JobStorage, apps interfaces.AppStorage, notifier interfaces.Notifier, logger arbor.ILogger) *Service {
	return &Service{
		jobs:     jobs,
		apps:     apps,
		notifier: notifier,
		logger:   logger,
	}
}

// BulkCreate inserts a batch of jobs with their transfer items, emitting the
// creation events. The whole batch commits or none of it does.
func (s *Service) BulkCreate(ctx context.Context, ownerID uint64, specs []models.JobCreate) ([]*models.Job, error) {
	if len(specs) == 0 {
		return nil, models.Validationf("empty job list")
	}

	now := time.Now().UTC()
	bundles := make([]*models.JobBundle, 0, len(specs))
	seenWorkdirs := map[string]bool{}

	for i := range specs {
		spec := &specs[i]
		app, err := s.apps.Get(ctx, ownerID, spec.AppID)
		if err != nil {
			return nil, err
		}
		siteID := app.Backends[0].SiteID

		key := workdirKey(siteID, spec.Workdir)
		if seenWorkdirs[key] {
			return nil, models.Conflictf("workdir %q duplicated in batch", spec.Workdir)
		}
		seenWorkdirs[key] = true
		if _, err := s.jobs.GetByWorkdir(ctx, siteID, spec.Workdir); err == nil {
			return nil, models.Conflictf("workdir %q already exists at site %d", spec.Workdir, siteID)
		} else if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}

		parentsPending, err := s.parentsPending(ctx, ownerID, spec.ParentIDs)
		if err != nil {
			return nil, err
		}

		job := &models.Job{
			OwnerID:          ownerID,
			SiteID:           siteID,
			AppID:            app.ID,
			Workdir:          spec.Workdir,
			Parameters:       spec.Parameters,
			Tags:             spec.Tags,
			ParentIDs:        spec.ParentIDs,
			RanksPerNode:     defaultInt(spec.RanksPerNode, 1),
			ThreadsPerRank:   defaultInt(spec.ThreadsPerRank, 1),
			NodePackingCount: defaultInt(spec.NodePackingCount, 1),
			WallTimeMin:      spec.WallTimeMin,
			GPUsPerRank:      spec.GPUsPerRank,
			LaunchParams:     spec.LaunchParams,
			State:            models.JobCreated,
			LastUpdate:       now,
		}

		bundle := &models.JobBundle{Job: job}
		for _, t := range spec.Transfers {
			bundle.Transfers = append(bundle.Transfers, &models.TransferItem{
				OwnerID:        ownerID,
				Direction:      t.Direction,
				LocationAlias:  t.LocationAlias,
				RemotePath:     t.RemotePath,
				LocalPath:      t.LocalPath,
				State:          models.TransferPending,
				StateTimestamp: now,
			})
		}

		// Jobs with pending stage-in transfers sit in CREATED until the
		// last inbound item completes; everything else stages in now.
		if !hasStageIn(bundle.Transfers) {
			bundle.Events = stageInEvents(job, parentsPending, "", nil)
		}
		bundles = append(bundles, bundle)
	}

	if err := s.jobs.InsertBatch(ctx, bundles); err != nil {
		return nil, err
	}

	created := make([]*models.Job, len(bundles))
	for i, b := range bundles {
		created[i] = b.Job
		Project(b.Job)
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkCreate, interfaces.EntityJob, created)
	s.logger.Info().Int64("owner_id", int64(ownerID)).Int("count", len(created)).Msg("Jobs created")
	return created, nil
}

// Get returns one job with its lock status projected.
func (s *Service) Get(ctx context.Context, ownerID, id uint64) (*models.Job, error) {
	job, err := s.jobs.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	Project(job)
	return job, nil
}

// List returns the filtered count and one page of jobs.
func (s *Service) List(ctx context.Context, ownerID uint64, q *models.JobQuery, p *models.Paginator) (int, []*models.Job, error) {
	count, page, err := s.jobs.Find(ctx, ownerID, q, p)
	if err != nil {
		return 0, nil, err
	}
	for _, job := range page {
		Project(job)
	}
	return count, page, nil
}

// BulkUpdate applies a list of patches keyed by job id. Duplicate ids fail
// validation; any failing row aborts the whole batch.
func (s *Service) BulkUpdate(ctx context.Context, ownerID uint64, patches []models.JobBulkUpdate) ([]*models.Job, error) {
	seen := map[uint64]bool{}
	for _, p := range patches {
		if seen[p.ID] {
			return nil, models.Validationf("duplicate id %d in bulk update", p.ID)
		}
		seen[p.ID] = true
	}

	var updated []*models.Job
	var events []*models.LogEvent
	for _, p := range patches {
		job, err := s.jobs.Get(ctx, ownerID, p.ID)
		if err != nil {
			return nil, err
		}
		evs, err := applyPatch(job, &p.JobUpdate)
		if err != nil {
			return nil, err
		}
		updated = append(updated, job)
		events = append(events, evs...)
	}

	if err := s.commit(ctx, ownerID, updated, events); err != nil {
		return nil, err
	}
	return updated, nil
}

// Update applies one patch to one job.
func (s *Service) Update(ctx context.Context, ownerID, id uint64, patch *models.JobUpdate) (*models.Job, error) {
	out, err := s.BulkUpdate(ctx, ownerID, []models.JobBulkUpdate{{ID: id, JobUpdate: *patch}})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpdateByQuery applies one patch to every job matching the filter.
func (s *Service) UpdateByQuery(ctx context.Context, ownerID uint64, q *models.JobQuery, patch *models.JobUpdate) ([]*models.Job, error) {
	_, matched, err := s.jobs.Find(ctx, ownerID, q, nil)
	if err != nil {
		return nil, err
	}

	var events []*models.LogEvent
	for _, job := range matched {
		evs, err := applyPatch(job, patch)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}

	if err := s.commit(ctx, ownerID, matched, events); err != nil {
		return nil, err
	}
	return matched, nil
}

// Delete removes one job with its events and transfer items.
func (s *Service) Delete(ctx context.Context, ownerID, id uint64) error {
	job, err := s.jobs.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.jobs.DeleteBatch(ctx, ownerID, []uint64{id}); err != nil {
		return err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkDelete, interfaces.EntityJob, []*models.Job{job})
	return nil
}

// DeleteByQuery removes every job matching the filter and returns the count.
func (s *Service) DeleteByQuery(ctx context.Context, ownerID uint64, q *models.JobQuery) (int, error) {
	_, matched, err := s.jobs.Find(ctx, ownerID, q, nil)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}
	ids := make([]uint64, len(matched))
	for i, job := range matched {
		ids[i] = job.ID
	}
	if err := s.jobs.DeleteBatch(ctx, ownerID, ids); err != nil {
		return 0, err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkDelete, interfaces.EntityJob, matched)
	return len(ids), nil
}

// StageIn advances a CREATED job whose inbound transfers have all completed.
// Called by the transfer service.
func (s *Service) StageIn(ctx context.Context, ownerID, jobID uint64) error {
	job, err := s.jobs.Get(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	if job.State != models.JobCreated {
		return nil
	}
	parentsPending, err := s.parentsPending(ctx, ownerID, job.ParentIDs)
	if err != nil {
		return err
	}
	events := stageInEvents(job, parentsPending, "", nil)
	job.LastUpdate = time.Now().UTC()
	return s.commit(ctx, ownerID, []*models.Job{job}, events)
}

// commit persists jobs and events atomically, publishes, and promotes any
// children unblocked by a finish.
func (s *Service) commit(ctx context.Context, ownerID uint64, jobs []*models.Job, events []*models.LogEvent) error {
	if err := s.jobs.SaveBatch(ctx, jobs, events); err != nil {
		return err
	}

	for _, job := range jobs {
		Project(job)
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkUpdate, interfaces.EntityJob, jobs)
	if len(events) > 0 {
		s.notifier.Publish(ownerID, interfaces.ActionBulkCreate, interfaces.EntityEvent, events)
	}

	var finished []uint64
	for _, job := range jobs {
		if job.State == models.JobFinished {
			finished = append(finished, job.ID)
		}
	}
	if len(finished) > 0 {
		if err := s.promoteChildren(ctx, ownerID, finished); err != nil {
			return err
		}
	}
	return nil
}

// promoteChildren moves AWAITING_PARENTS jobs whose parents have all
// finished into READY, emitting the transition events.
func (s *Service) promoteChildren(ctx context.Context, ownerID uint64, parentIDs []uint64) error {
	_, children, err := s.jobs.Find(ctx, ownerID, &models.JobQuery{
		ParentIDs: parentIDs,
		States:    []models.JobState{models.JobAwaitingParents},
	}, nil)
	if err != nil {
		return err
	}

	var ready []*models.Job
	var events []*models.LogEvent
	now := time.Now().UTC()
	for _, child := range children {
		pending, err := s.parentsPending(ctx, ownerID, child.ParentIDs)
		if err != nil {
			return err
		}
		if pending {
			continue
		}
		events = append(events, state.NewEvent(child, child.State, models.JobReady, "", nil))
		child.State = models.JobReady
		child.LastUpdate = now
		ready = append(ready, child)
	}
	if len(ready) == 0 {
		return nil
	}
	return s.commit(ctx, ownerID, ready, events)
}

// parentsPending reports whether any named parent has not yet finished. It
// also validates that every parent exists under the same owner.
func (s *Service) parentsPending(ctx context.Context, ownerID uint64, parentIDs []uint64) (bool, error) {
	pending := false
	for _, pid := range parentIDs {
		parent, err := s.jobs.Get(ctx, ownerID, pid)
		if err != nil {
			return false, models.Validationf("parent job %d not found", pid)
		}
		if parent.State != models.JobFinished {
			pending = true
		}
	}
	return pending, nil
}

// applyPatch mutates job in place and returns the log events the patch
// produced. State writes run through the transition validator; a same-state
// write is a no-op with no event.
func applyPatch(job *models.Job, patch *models.JobUpdate) ([]*models.LogEvent, error) {
	if patch.Workdir != nil {
		job.Workdir = *patch.Workdir
	}
	if patch.Parameters != nil {
		job.Parameters = patch.Parameters
	}
	if patch.Tags != nil {
		job.Tags = patch.Tags
	}
	if patch.ParentIDs != nil {
		job.ParentIDs = patch.ParentIDs
	}
	if patch.RanksPerNode != nil {
		job.RanksPerNode = *patch.RanksPerNode
	}
	if patch.ThreadsPerRank != nil {
		job.ThreadsPerRank = *patch.ThreadsPerRank
	}
	if patch.NodePackingCount != nil {
		job.NodePackingCount = *patch.NodePackingCount
	}
	if patch.WallTimeMin != nil {
		job.WallTimeMin = *patch.WallTimeMin
	}
	if patch.GPUsPerRank != nil {
		job.GPUsPerRank = *patch.GPUsPerRank
	}
	if patch.LaunchParams != nil {
		job.LaunchParams = patch.LaunchParams
	}
	if patch.ReturnCode != nil {
		job.ReturnCode = patch.ReturnCode
	}
	if patch.BatchJobID != nil {
		job.BatchJobID = patch.BatchJobID
	}
	if patch.Data != nil {
		job.Data = patch.Data
	}

	var events []*models.LogEvent
	if patch.State != nil && *patch.State != job.State {
		if err := state.ValidateTransition(job.State, *patch.State); err != nil {
			return nil, err
		}
		message := ""
		if patch.StateMessage != nil {
			message = *patch.StateMessage
		}
		events = append(events, state.NewEvent(job, job.State, *patch.State, message, patch.StateTimestamp))
		job.State = *patch.State
	}
	job.LastUpdate = time.Now().UTC()
	return events, nil
}

// stageInEvents emits the creation trail: CREATED -> STAGED_IN, then either
// STAGED_IN -> READY (no pending parents, job row stays STAGED_IN) or
// STAGED_IN -> AWAITING_PARENTS (row advances).
func stageInEvents(job *models.Job, parentsPending bool, message string, at *time.Time) []*models.LogEvent {
	events := []*models.LogEvent{
		state.NewEvent(job, models.JobCreated, models.JobStagedIn, message, at),
	}
	if parentsPending {
		events = append(events, state.NewEvent(job, models.JobStagedIn, models.JobAwaitingParents, "", at))
		job.State = models.JobAwaitingParents
	} else {
		events = append(events, state.NewEvent(job, models.JobStagedIn, models.JobReady, "", at))
		job.State = models.JobStagedIn
	}
	return events
}

// Project fills the read-only wire fields. The row never stores a state
// message or timestamp; the trail lives in the event log.
func Project(job *models.Job) {
	job.StateMessage = ""
	job.StateTimestamp = nil
	job.LockStatus = state.LockStatus(job)
}

func hasStageIn(items []*models.TransferItem) bool {
	for _, item := range items {
		if item.Direction == models.TransferIn && item.State != models.TransferDone {
			return true
		}
	}
	return false
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func workdirKey(siteID uint64, workdir string) string {
	return fmt.Sprintf("%d|%s", siteID, workdir)
}
