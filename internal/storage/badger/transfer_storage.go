package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TransferStorage implements the TransferStorage interface for Badger.
// Items are inserted through JobStorage batch writes; this type only reads
// and mutates existing rows.
type TransferStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTransferStorage creates a new TransferStorage instance.
func NewTransferStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TransferStorage {
	return &TransferStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TransferStorage) Get(ctx context.Context, ownerID, id uint64) (*models.TransferItem, error) {
	var item models.TransferItem
	if err := s.db.Store().Get(id, &item); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NotFoundf("transfer item %d", id)
		}
		return nil, fmt.Errorf("failed to get transfer item: %w", err)
	}
	if item.OwnerID != ownerID {
		return nil, models.NotFoundf("transfer item %d", id)
	}
	return &item, nil
}

func (s *TransferStorage) Find(ctx context.Context, ownerID uint64, jobIDs []uint64, state models.TransferState, p *models.Paginator) (int, []*models.TransferItem, error) {
	var rows []models.TransferItem
	if err := s.db.Store().Find(&rows, badgerhold.Where("OwnerID").Eq(ownerID)); err != nil {
		return 0, nil, fmt.Errorf("failed to list transfer items: %w", err)
	}

	matched := make([]*models.TransferItem, 0, len(rows))
	for i := range rows {
		if len(jobIDs) > 0 && !containsID(jobIDs, rows[i].JobID) {
			continue
		}
		if state != "" && rows[i].State != state {
			continue
		}
		matched = append(matched, &rows[i])
	}

	sortByColumns(matched, []string{"id"}, func(a, b *models.TransferItem, col string) int {
		return compareUint64(a.ID, b.ID)
	})

	return len(matched), paginate(matched, p), nil
}

func (s *TransferStorage) Update(ctx context.Context, item *models.TransferItem) error {
	if err := s.db.Store().Update(item.ID, item); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.NotFoundf("transfer item %d", item.ID)
		}
		return fmt.Errorf("failed to update transfer item: %w", err)
	}
	return nil
}
