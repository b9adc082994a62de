package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// EventStorage implements read access to the append-only log-event trail.
type EventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEventStorage creates a new EventStorage instance.
func NewEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventStorage {
	return &EventStorage{
		db:     db,
		logger: logger,
	}
}

func (s *EventStorage) Find(ctx context.Context, ownerID uint64, q *models.EventQuery, p *models.Paginator) (int, []*models.LogEvent, error) {
	var rows []models.LogEvent
	if err := s.db.Store().Find(&rows, badgerhold.Where("OwnerID").Eq(ownerID)); err != nil {
		return 0, nil, fmt.Errorf("failed to list events: %w", err)
	}

	matched := make([]*models.LogEvent, 0, len(rows))
	for i := range rows {
		if q == nil || eventMatches(&rows[i], q) {
			matched = append(matched, &rows[i])
		}
	}

	// Default order is timestamp ascending; the id tiebreak keeps the commit
	// order for same-instant transitions.
	orderBy := []string{"timestamp", "id"}
	if q != nil && len(q.OrderBy) > 0 {
		// Copy before appending the tiebreak; appending in place can write
		// into the caller's backing array.
		orderBy = make([]string, 0, len(q.OrderBy)+1)
		orderBy = append(orderBy, q.OrderBy...)
		orderBy = append(orderBy, "id")
	}
	sortByColumns(matched, orderBy, compareEvents)

	return len(matched), paginate(matched, p), nil
}

func eventMatches(ev *models.LogEvent, q *models.EventQuery) bool {
	if len(q.JobIDs) > 0 && !containsID(q.JobIDs, ev.JobID) {
		return false
	}
	if len(q.ToStates) > 0 && !containsState(q.ToStates, ev.ToState) {
		return false
	}
	if len(q.FromStates) > 0 && !containsState(q.FromStates, ev.FromState) {
		return false
	}
	if q.MessageContains != "" && !strings.Contains(ev.Message, q.MessageContains) {
		return false
	}
	if q.TimestampBefore != nil && ev.Timestamp.After(*q.TimestampBefore) {
		return false
	}
	if q.TimestampAfter != nil && ev.Timestamp.Before(*q.TimestampAfter) {
		return false
	}
	return true
}

func containsState(states []models.JobState, state models.JobState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

func compareEvents(a, b *models.LogEvent, col string) int {
	switch col {
	case "id":
		return compareUint64(a.ID, b.ID)
	case "job_id":
		return compareUint64(a.JobID, b.JobID)
	case "timestamp":
		return a.Timestamp.Compare(b.Timestamp)
	default:
		return 0
	}
}
