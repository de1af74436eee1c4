package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/libris/libris/internal/cache"
	"github.com/libris/libris/internal/models"
	"github.com/sirupsen/logrus"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// RefreshTokenService tracks issued refresh tokens and revoked token ids in
// the session cache. Entries expire with the tokens they describe.
type RefreshTokenService struct {
	cache  cache.Cache
	logger *logrus.Logger
}

func NewRefreshTokenService(c cache.Cache, logger *logrus.Logger) *RefreshTokenService {
	return &RefreshTokenService{
		cache:  c,
		logger: logger,
	}
}

func refreshKey(jti string) string {
	return "refresh_token:" + jti
}

func revokedKey(jti string) string {
	return "revoked_token:" + jti
}

func (s *RefreshTokenService) Store(ctx context.Context, claims *Claims) error {
	tokenData := models.RefreshTokenData{
		JTI:       claims.ID,
		UserID:    claims.UserID(),
		Username:  claims.Username,
		FamilyID:  claims.FamilyID,
		CreatedAt: time.Now(),
		ExpiresAt: claims.ExpiresAt.Time,
	}

	dataJSON, err := json.Marshal(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	if err := s.cache.Set(ctx, refreshKey(tokenData.JTI), dataJSON, time.Until(tokenData.ExpiresAt)); err != nil {
		s.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (s *RefreshTokenService) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	dataJSON, err := s.cache.Get(ctx, refreshKey(jti))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var tokenData models.RefreshTokenData
	if err := json.Unmarshal(dataJSON, &tokenData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	return &tokenData, nil
}

// Consume removes a stored refresh token so it cannot be rotated twice.
func (s *RefreshTokenService) Consume(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	key := refreshKey(jti)
	raw, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	removed, err := s.cache.DeleteIfEqual(ctx, key, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if !removed {
		return nil, ErrRefreshTokenNotFound
	}

	var tokenData models.RefreshTokenData
	if err := json.Unmarshal(raw, &tokenData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}
	return &tokenData, nil
}

// Revoke marks any token id as revoked until expiresAt and drops a stored
// refresh token with that id.
func (s *RefreshTokenService) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := s.cache.Set(ctx, revokedKey(jti), []byte("1"), ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	if err := s.cache.Delete(ctx, refreshKey(jti)); err != nil {
		s.logger.WithError(err).Warn("Failed to drop revoked refresh token")
	}

	return nil
}

func (s *RefreshTokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := s.cache.Get(ctx, revokedKey(jti))
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
