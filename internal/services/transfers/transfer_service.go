// Package transfers tracks stage-in/stage-out items. Completing the last
// inbound item of a CREATED job stages the job in.
package transfers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	svcjobs "github.com/ternarybob/lodestar/internal/services/jobs"
)

// Service manages transfer items.
type Service struct {
	transfers interfaces.TransferStorage
	jobs      *svcjobs.Service
	notifier  interfaces.Notifier
	logger    arbor.ILogger
}

// NewService creates a new transfer service.
func NewService(transfers interfaces.TransferStorage, jobs *svcjobs.Service, notifier interfaces.Notifier, logger arbor.ILogger) *Service {
	return &Service{
		transfers: transfers,
		jobs:      jobs,
		notifier:  notifier,
		logger:    logger,
	}
}

// Get returns one transfer item.
func (s *Service) Get(ctx context.Context, ownerID, id uint64) (*models.TransferItem, error) {
	return s.transfers.Get(ctx, ownerID, id)
}

// List returns the filtered count and one page of transfer items.
func (s *Service) List(ctx context.Context, ownerID uint64, jobIDs []uint64, state models.TransferState, p *models.Paginator) (int, []*models.TransferItem, error) {
	return s.transfers.Find(ctx, ownerID, jobIDs, state, p)
}

// Update patches one item's state and task id. When the last inbound item
// of a job reaches done, the job stages in.
func (s *Service) Update(ctx context.Context, ownerID, id uint64, patch *models.TransferItemUpdate) (*models.TransferItem, error) {
	item, err := s.transfers.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if patch.State != nil && *patch.State != item.State {
		item.State = *patch.State
		item.StateTimestamp = time.Now().UTC()
	}
	if patch.TaskID != nil {
		item.TaskID = *patch.TaskID
	}
	if err := s.transfers.Update(ctx, item); err != nil {
		return nil, err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkUpdate, interfaces.EntityTransfer, []*models.TransferItem{item})

	if item.Direction == models.TransferIn && item.State == models.TransferDone {
		done, err := s.stageInComplete(ctx, ownerID, item.JobID)
		if err != nil {
			return nil, err
		}
		if done {
			if err := s.jobs.StageIn(ctx, ownerID, item.JobID); err != nil {
				return nil, err
			}
		}
	}
	return item, nil
}

// stageInComplete reports whether every inbound item of the job is done.
func (s *Service) stageInComplete(ctx context.Context, ownerID, jobID uint64) (bool, error) {
	_, items, err := s.transfers.Find(ctx, ownerID, []uint64{jobID}, "", nil)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if item.Direction == models.TransferIn && item.State != models.TransferDone {
			return false, nil
		}
	}
	return true, nil
}
