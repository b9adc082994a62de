package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SessionStorage implements the SessionStorage interface for Badger.
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage creates a new SessionStorage instance.
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SessionStorage) Create(ctx context.Context, sess *models.Session) error {
	if err := s.db.Store().Insert(badgerhold.NextSequence(), sess); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SessionStorage) Get(ctx context.Context, ownerID, id uint64) (*models.Session, error) {
	var sess models.Session
	if err := s.db.Store().Get(id, &sess); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NotFoundf("session %d", id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if sess.OwnerID != ownerID {
		return nil, models.NotFoundf("session %d", id)
	}
	return &sess, nil
}

func (s *SessionStorage) Update(ctx context.Context, sess *models.Session) error {
	if err := s.db.Store().Update(sess.ID, sess); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.NotFoundf("session %d", sess.ID)
		}
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *SessionStorage) Delete(ctx context.Context, ownerID, id uint64) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.db.Store().Delete(id, &models.Session{}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListExpired returns sessions whose heartbeat predates the cutoff, across
// all owners. Used by the expiry sweeper.
func (s *SessionStorage) ListExpired(ctx context.Context, before time.Time) ([]*models.Session, error) {
	var rows []models.Session
	if err := s.db.Store().Find(&rows, badgerhold.Where("Heartbeat").Lt(before)); err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	out := make([]*models.Session, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}
