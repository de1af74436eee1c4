package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/libris/libris/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refreshClaims(jti string, ttl time.Duration) *Claims {
	return &Claims{
		Username: "alice",
		Type:     TokenTypeRefresh,
		FamilyID: "fam-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func TestRefreshTokenService_StoreAndConsume(t *testing.T) {
	ctx := context.Background()
	svc := NewRefreshTokenService(cache.NewMemoryCache(), testLogger())

	require.NoError(t, svc.Store(ctx, refreshClaims("jti-1", time.Hour)))

	data, err := svc.Get(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", data.UserID)
	assert.Equal(t, "fam-1", data.FamilyID)

	consumed, err := svc.Consume(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, "jti-1", consumed.JTI)

	_, err = svc.Consume(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestRefreshTokenService_Revoke(t *testing.T) {
	ctx := context.Background()
	svc := NewRefreshTokenService(cache.NewMemoryCache(), testLogger())
	require.NoError(t, svc.Store(ctx, refreshClaims("jti-2", time.Hour)))

	revoked, err := svc.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, svc.Revoke(ctx, "jti-2", time.Now().Add(time.Hour)))

	revoked, err = svc.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = svc.Get(ctx, "jti-2")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestRefreshTokenService_RevokeExpiredIsNoop(t *testing.T) {
	ctx := context.Background()
	svc := NewRefreshTokenService(cache.NewMemoryCache(), testLogger())

	require.NoError(t, svc.Revoke(ctx, "old", time.Now().Add(-time.Minute)))
	revoked, err := svc.IsRevoked(ctx, "old")
	require.NoError(t, err)
	assert.False(t, revoked)
}
