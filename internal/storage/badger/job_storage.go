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

// JobStorage implements the JobStorage interface for Badger. Batch writes
// commit jobs, their log events and transfer items in one store transaction
// so a failed row aborts the whole operation.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance.
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) InsertBatch(ctx context.Context, bundles []*models.JobBundle) error {
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		for _, b := range bundles {
			if err := s.db.Store().TxInsert(tx, badgerhold.NextSequence(), b.Job); err != nil {
				return fmt.Errorf("failed to insert job: %w", err)
			}
			// The sequence key is written back onto the struct; stamp it
			// onto the child rows before they commit.
			for _, ev := range b.Events {
				ev.JobID = b.Job.ID
				if err := s.db.Store().TxInsert(tx, badgerhold.NextSequence(), ev); err != nil {
					return fmt.Errorf("failed to insert log event: %w", err)
				}
			}
			for _, item := range b.Transfers {
				item.JobID = b.Job.ID
				if err := s.db.Store().TxInsert(tx, badgerhold.NextSequence(), item); err != nil {
					return fmt.Errorf("failed to insert transfer item: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Int("jobs", len(bundles)).Msg("Job batch inserted")
	return nil
}

func (s *JobStorage) Get(ctx context.Context, ownerID, id uint64) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NotFoundf("job %d", id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job.OwnerID != ownerID {
		return nil, models.NotFoundf("job %d", id)
	}
	return &job, nil
}

func (s *JobStorage) Find(ctx context.Context, ownerID uint64, q *models.JobQuery, p *models.Paginator) (int, []*models.Job, error) {
	var rows []models.Job
	if err := s.db.Store().Find(&rows, badgerhold.Where("OwnerID").Eq(ownerID)); err != nil {
		return 0, nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	matched := make([]*models.Job, 0, len(rows))
	for i := range rows {
		if q == nil || jobMatches(&rows[i], q) {
			matched = append(matched, &rows[i])
		}
	}

	orderBy := []string{"id"}
	if q != nil && len(q.OrderBy) > 0 {
		orderBy = q.OrderBy
	}
	sortByColumns(matched, orderBy, compareJobs)

	return len(matched), paginate(matched, p), nil
}

func jobMatches(job *models.Job, q *models.JobQuery) bool {
	if len(q.IDs) > 0 && !containsID(q.IDs, job.ID) {
		return false
	}
	if len(q.ParentIDs) > 0 {
		any := false
		for _, pid := range job.ParentIDs {
			if containsID(q.ParentIDs, pid) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if q.AppID != 0 && job.AppID != q.AppID {
		return false
	}
	if q.SiteID != 0 && job.SiteID != q.SiteID {
		return false
	}
	if q.BatchJobID != 0 && (job.BatchJobID == nil || *job.BatchJobID != q.BatchJobID) {
		return false
	}
	if q.SessionID != 0 && (job.SessionID == nil || *job.SessionID != q.SessionID) {
		return false
	}
	if q.LastUpdateBefore != nil && job.LastUpdate.After(*q.LastUpdateBefore) {
		return false
	}
	if q.LastUpdateAfter != nil && job.LastUpdate.Before(*q.LastUpdateAfter) {
		return false
	}
	if q.WorkdirContains != "" && !strings.Contains(job.Workdir, q.WorkdirContains) {
		return false
	}
	if len(q.States) > 0 {
		found := false
		for _, st := range q.States {
			if job.State == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.StateNe != "" && job.State == q.StateNe {
		return false
	}
	if len(q.Tags) > 0 && !subsetMatch(job.Tags, q.Tags) {
		return false
	}
	if len(q.Parameters) > 0 && !subsetMatch(job.Parameters, q.Parameters) {
		return false
	}
	return true
}

func compareJobs(a, b *models.Job, col string) int {
	switch col {
	case "id":
		return compareUint64(a.ID, b.ID)
	case "last_update":
		return a.LastUpdate.Compare(b.LastUpdate)
	case "state":
		return strings.Compare(string(a.State), string(b.State))
	case "workdir":
		return strings.Compare(a.Workdir, b.Workdir)
	case "wall_time_min":
		return compareInt(a.WallTimeMin, b.WallTimeMin)
	case "num_nodes", "node_packing_count":
		return compareInt(a.NodePackingCount, b.NodePackingCount)
	default:
		return 0
	}
}

func (s *JobStorage) SaveBatch(ctx context.Context, jobs []*models.Job, events []*models.LogEvent) error {
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		for _, job := range jobs {
			if err := s.db.Store().TxUpsert(tx, job.ID, job); err != nil {
				return fmt.Errorf("failed to save job %d: %w", job.ID, err)
			}
		}
		for _, ev := range events {
			if err := s.db.Store().TxInsert(tx, badgerhold.NextSequence(), ev); err != nil {
				return fmt.Errorf("failed to insert log event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().
		Int("jobs", len(jobs)).
		Int("events", len(events)).
		Msg("Job batch saved")
	return nil
}

func (s *JobStorage) DeleteBatch(ctx context.Context, ownerID uint64, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	// Cascade: drop the jobs' events and transfer items with the rows.
	if err := s.db.Store().DeleteMatching(&models.LogEvent{},
		badgerhold.Where("OwnerID").Eq(ownerID).And("JobID").In(toInterfaces(ids)...)); err != nil {
		return fmt.Errorf("failed to delete job events: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.TransferItem{},
		badgerhold.Where("OwnerID").Eq(ownerID).And("JobID").In(toInterfaces(ids)...)); err != nil {
		return fmt.Errorf("failed to delete transfer items: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.Job{},
		badgerhold.Where(badgerhold.Key).In(toInterfaces(ids)...).And("OwnerID").Eq(ownerID)); err != nil {
		return fmt.Errorf("failed to delete jobs: %w", err)
	}

	s.logger.Debug().Int("jobs", len(ids)).Msg("Job batch deleted")
	return nil
}

// GetByWorkdir resolves the unique job at (site, workdir). Zero matches is
// NotFound; more than one reports the duplicate instead of picking a row.
func (s *JobStorage) GetByWorkdir(ctx context.Context, siteID uint64, workdir string) (*models.Job, error) {
	var rows []models.Job
	if err := s.db.Store().Find(&rows,
		badgerhold.Where("SiteID").Eq(siteID).And("Workdir").Eq(workdir)); err != nil {
		return nil, fmt.Errorf("failed to resolve workdir: %w", err)
	}
	switch len(rows) {
	case 0:
		return nil, models.NotFoundf("job with workdir %q at site %d", workdir, siteID)
	case 1:
		return &rows[0], nil
	default:
		return nil, models.MultipleObjectsf("workdir %q matches %d jobs at site %d", workdir, len(rows), siteID)
	}
}

func toInterfaces(ids []uint64) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
