package badger

import (
	"context"
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// BatchJobStorage implements the BatchJobStorage interface for Badger.
type BatchJobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBatchJobStorage creates a new BatchJobStorage instance.
func NewBatchJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BatchJobStorage {
	return &BatchJobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *BatchJobStorage) Create(ctx context.Context, bj *models.BatchJob) error {
	if err := s.db.Store().Insert(badgerhold.NextSequence(), bj); err != nil {
		return fmt.Errorf("failed to create batch job: %w", err)
	}
	return nil
}

func (s *BatchJobStorage) Get(ctx context.Context, ownerID, id uint64) (*models.BatchJob, error) {
	var bj models.BatchJob
	if err := s.db.Store().Get(id, &bj); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NotFoundf("batch job %d", id)
		}
		return nil, fmt.Errorf("failed to get batch job: %w", err)
	}
	if bj.OwnerID != ownerID {
		return nil, models.NotFoundf("batch job %d", id)
	}
	return &bj, nil
}

func (s *BatchJobStorage) Find(ctx context.Context, ownerID uint64, q *models.BatchJobQuery, p *models.Paginator) (int, []*models.BatchJob, error) {
	var rows []models.BatchJob
	if err := s.db.Store().Find(&rows, badgerhold.Where("OwnerID").Eq(ownerID)); err != nil {
		return 0, nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}

	matched := make([]*models.BatchJob, 0, len(rows))
	for i := range rows {
		if q == nil || batchJobMatches(&rows[i], q) {
			matched = append(matched, &rows[i])
		}
	}

	orderBy := []string{"id"}
	if q != nil && len(q.OrderBy) > 0 {
		orderBy = q.OrderBy
	}
	sortByColumns(matched, orderBy, compareBatchJobs)

	return len(matched), paginate(matched, p), nil
}

func batchJobMatches(bj *models.BatchJob, q *models.BatchJobQuery) bool {
	if len(q.SiteIDs) > 0 && !containsID(q.SiteIDs, bj.SiteID) {
		return false
	}
	if len(q.States) > 0 {
		found := false
		for _, st := range q.States {
			if bj.State == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.SchedulerID != nil && (bj.SchedulerID == nil || *bj.SchedulerID != *q.SchedulerID) {
		return false
	}
	if len(q.FilterTags) > 0 && !subsetMatch(bj.FilterTags, q.FilterTags) {
		return false
	}
	return true
}

func compareBatchJobs(a, b *models.BatchJob, col string) int {
	switch col {
	case "id":
		return compareUint64(a.ID, b.ID)
	case "site_id":
		return compareUint64(a.SiteID, b.SiteID)
	case "state":
		return strings.Compare(string(a.State), string(b.State))
	case "num_nodes":
		return compareInt(a.NumNodes, b.NumNodes)
	case "wall_time_min":
		return compareInt(a.WallTimeMin, b.WallTimeMin)
	default:
		return 0
	}
}

func (s *BatchJobStorage) Update(ctx context.Context, bj *models.BatchJob) error {
	if err := s.db.Store().Update(bj.ID, bj); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.NotFoundf("batch job %d", bj.ID)
		}
		return fmt.Errorf("failed to update batch job: %w", err)
	}
	return nil
}

// UpdateBatch writes every row in one store transaction; a missing row
// aborts the whole batch.
func (s *BatchJobStorage) UpdateBatch(ctx context.Context, batches []*models.BatchJob) error {
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		for _, bj := range batches {
			if err := s.db.Store().TxUpdate(tx, bj.ID, bj); err != nil {
				if err == badgerhold.ErrNotFound {
					return models.NotFoundf("batch job %d", bj.ID)
				}
				return fmt.Errorf("failed to update batch job %d: %w", bj.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Int("batch_jobs", len(batches)).Msg("Batch-job batch updated")
	return nil
}

// Delete removes one batch-job row. Jobs bound to it keep running; the
// service layer decides whether a delete becomes pending_deletion instead.
func (s *BatchJobStorage) Delete(ctx context.Context, ownerID, id uint64) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.db.Store().Delete(id, &models.BatchJob{}); err != nil {
		return fmt.Errorf("failed to delete batch job: %w", err)
	}
	return nil
}
