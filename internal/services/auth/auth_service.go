// Package auth resolves opaque bearer tokens to owner ids. The server only
// needs an identified owner per request; issuing tokens is an operator
// action via config or the token store.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
)

// Service authenticates requests against the token store.
type Service struct {
	tokens interfaces.TokenStorage
	logger arbor.ILogger
}

// NewService creates a new auth service.
func NewService(tokens interfaces.TokenStorage, logger arbor.ILogger) *Service {
	return &Service{
		tokens: tokens,
		logger: logger,
	}
}

// Authenticate maps a bearer token to its owner id.
func (s *Service) Authenticate(ctx context.Context, token string) (uint64, error) {
	if token == "" {
		return 0, models.ErrAuth
	}
	return s.tokens.Resolve(ctx, token)
}

// IssueToken mints a fresh random token for an owner and stores it.
func (s *Service) IssueToken(ctx context.Context, ownerID uint64) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	if err := s.tokens.Put(ctx, token, ownerID); err != nil {
		return "", err
	}
	s.logger.Info().Int64("owner_id", int64(ownerID)).Msg("API token issued")
	return token, nil
}

// Register stores a preconfigured token for an owner, used to seed tokens
// from config at startup.
func (s *Service) Register(ctx context.Context, token string, ownerID uint64) error {
	if token == "" {
		return models.Validationf("empty token")
	}
	return s.tokens.Put(ctx, token, ownerID)
}
