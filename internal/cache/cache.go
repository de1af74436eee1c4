// Package cache provides the ephemeral key-value store used for login
// challenges, elevated sessions and revoked tokens.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache is a key-value store with per-key expiry. Implementations must make
// each operation atomic with respect to concurrent callers.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeleteIfEqual removes key only while it still holds value and reports
	// whether this call removed it.
	DeleteIfEqual(ctx context.Context, key string, value []byte) (bool, error)
}

// IsExpired reports whether an entry stamped at ts has outlived ttl at now.
// A non-positive ttl never expires.
func IsExpired(ts time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return !now.Before(ts.Add(ttl))
}
