package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// apiToken maps an opaque bearer token to an owner id.
type apiToken struct {
	Token   string `badgerhold:"key"`
	OwnerID uint64
}

// TokenStorage implements the TokenStorage interface for Badger.
type TokenStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTokenStorage creates a new TokenStorage instance.
func NewTokenStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TokenStorage {
	return &TokenStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TokenStorage) Put(ctx context.Context, token string, ownerID uint64) error {
	if err := s.db.Store().Upsert(token, &apiToken{Token: token, OwnerID: ownerID}); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (s *TokenStorage) Resolve(ctx context.Context, token string) (uint64, error) {
	var row apiToken
	if err := s.db.Store().Get(token, &row); err != nil {
		if err == badgerhold.ErrNotFound {
			return 0, models.ErrAuth
		}
		return 0, fmt.Errorf("failed to resolve token: %w", err)
	}
	return row.OwnerID, nil
}
