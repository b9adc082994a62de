// Package batchjobs reconciles client-proposed scheduling parameters with
// scheduler-authoritative updates on batch jobs. Scheduling fields freeze
// once the allocation is handed to the scheduler; stale client writes must
// acknowledge the server's value with revert=true.
package batchjobs

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
)

// Config tunes the reconciler.
type Config struct {
	// LenientFreeze delays the scheduling-field freeze from queued to
	// running.
	LenientFreeze bool
}

// Service implements batch-job lifecycle and the revert protocol.
type Service struct {
	batches  interfaces.BatchJobStorage
	jobs     interfaces.JobStorage
	notifier interfaces.Notifier
	config   Config
	logger   arbor.ILogger
}

// NewService creates a new batch-job service.
func NewService(batches interfaces.BatchJobStorage, jobs interfaces.JobStorage, notifier interfaces.Notifier, config Config, logger arbor.ILogger) *Service {
	return &Service{
		batches:  batches,
		jobs:     jobs,
		notifier: notifier,
		config:   config,
		logger:   logger,
	}
}

// Create submits a new allocation request in pending_submission.
func (s *Service) Create(ctx context.Context, ownerID uint64, spec *models.BatchJobCreate) (*models.BatchJob, error) {
	bj := &models.BatchJob{
		OwnerID:     ownerID,
		SiteID:      spec.SiteID,
		Project:     spec.Project,
		Queue:       spec.Queue,
		NumNodes:    spec.NumNodes,
		WallTimeMin: spec.WallTimeMin,
		JobMode:     spec.JobMode,
		FilterTags:  spec.FilterTags,
		State:       models.BatchPendingSubmission,
	}
	if err := s.batches.Create(ctx, bj); err != nil {
		return nil, err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkCreate, interfaces.EntityBatchJob, []*models.BatchJob{bj})
	return bj, nil
}

// Get returns one batch job.
func (s *Service) Get(ctx context.Context, ownerID, id uint64) (*models.BatchJob, error) {
	return s.batches.Get(ctx, ownerID, id)
}

// List returns the filtered count and one page of batch jobs.
func (s *Service) List(ctx context.Context, ownerID uint64, q *models.BatchJobQuery, p *models.Paginator) (int, []*models.BatchJob, error) {
	return s.batches.Find(ctx, ownerID, q, p)
}

// Update applies one patch to one batch job, enforcing the freeze rule.
func (s *Service) Update(ctx context.Context, ownerID, id uint64, patch *models.BatchJobUpdate) (*models.BatchJob, error) {
	out, err := s.BulkUpdate(ctx, ownerID, []models.BatchJobBulkUpdate{{ID: id, BatchJobUpdate: *patch}})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// BulkUpdate applies a list of patches keyed by batch-job id. Any failing
// row aborts the batch.
func (s *Service) BulkUpdate(ctx context.Context, ownerID uint64, patches []models.BatchJobBulkUpdate) ([]*models.BatchJob, error) {
	seen := map[uint64]bool{}
	for _, p := range patches {
		if seen[p.ID] {
			return nil, models.Validationf("duplicate id %d in bulk update", p.ID)
		}
		seen[p.ID] = true
	}

	var updated []*models.BatchJob
	for _, p := range patches {
		bj, err := s.batches.Get(ctx, ownerID, p.ID)
		if err != nil {
			return nil, err
		}
		if err := s.applyPatch(bj, &p.BatchJobUpdate); err != nil {
			return nil, err
		}
		updated = append(updated, bj)
	}

	// Every patch validated; commit the whole batch in one transaction.
	if err := s.batches.UpdateBatch(ctx, updated); err != nil {
		return nil, err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkUpdate, interfaces.EntityBatchJob, updated)
	return updated, nil
}

// Delete removes one batch job. An allocation already running is marked
// pending_deletion for the site agent to tear down; anything else deletes
// outright.
func (s *Service) Delete(ctx context.Context, ownerID, id uint64) error {
	bj, err := s.batches.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if bj.State == models.BatchRunning {
		bj.State = models.BatchPendingDeletion
		if err := s.batches.Update(ctx, bj); err != nil {
			return err
		}
		s.notifier.Publish(ownerID, interfaces.ActionBulkUpdate, interfaces.EntityBatchJob, []*models.BatchJob{bj})
		return nil
	}
	if err := s.batches.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkDelete, interfaces.EntityBatchJob, []*models.BatchJob{bj})
	return nil
}

// DeleteByQuery is rejected: batch jobs are deletable only per row.
func (s *Service) DeleteByQuery(ctx context.Context, ownerID uint64, q *models.BatchJobQuery) error {
	return models.ErrNotImplemented
}

// frozen reports whether scheduling parameters may no longer drift.
func (s *Service) frozen(state models.BatchState) bool {
	if s.config.LenientFreeze {
		return state != models.BatchPendingSubmission && state != models.BatchQueued
	}
	return state != models.BatchPendingSubmission
}

// applyPatch mutates bj in place. Scheduler-authoritative fields always
// write; scheduling parameters on a frozen batch job conflict unless the
// patch carries revert=true, in which case the stored value wins and the
// proposed one is discarded.
func (s *Service) applyPatch(bj *models.BatchJob, patch *models.BatchJobUpdate) error {
	frozen := s.frozen(bj.State)

	set := func(dst *int, src *int, name string) error {
		if src == nil || *src == *dst {
			return nil
		}
		if frozen {
			if patch.Revert {
				return nil
			}
			return models.Conflictf("field %s is frozen once the batch job is scheduled", name)
		}
		*dst = *src
		return nil
	}
	setStr := func(dst *string, src *string, name string) error {
		if src == nil || *src == *dst {
			return nil
		}
		if frozen {
			if patch.Revert {
				return nil
			}
			return models.Conflictf("field %s is frozen once the batch job is scheduled", name)
		}
		*dst = *src
		return nil
	}

	if err := setStr(&bj.Project, patch.Project, "project"); err != nil {
		return err
	}
	if err := setStr(&bj.Queue, patch.Queue, "queue"); err != nil {
		return err
	}
	if err := setStr(&bj.JobMode, patch.JobMode, "job_mode"); err != nil {
		return err
	}
	if err := set(&bj.NumNodes, patch.NumNodes, "num_nodes"); err != nil {
		return err
	}
	if err := set(&bj.WallTimeMin, patch.WallTimeMin, "wall_time_min"); err != nil {
		return err
	}

	if patch.SchedulerID != nil {
		bj.SchedulerID = patch.SchedulerID
	}
	if patch.State != nil {
		bj.State = *patch.State
	}
	if patch.StatusInfo != nil {
		bj.StatusInfo = patch.StatusInfo
	}
	if patch.StartTime != nil {
		t := patch.StartTime.UTC()
		bj.StartTime = &t
	}
	if patch.EndTime != nil {
		t := patch.EndTime.UTC()
		bj.EndTime = &t
	}
	return nil
}
