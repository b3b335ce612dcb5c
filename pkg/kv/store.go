package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable wraps connection-level backend failures.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Store holds opaque values with optional expiry.
type Store interface {
	// Set stores value under key. A ttl of zero keeps the key forever.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	// TTL returns the remaining lifetime, -1 for keys without expiry and
	// ErrNotFound for missing keys.
	TTL(ctx context.Context, key string) (time.Duration, error)

	Ping(ctx context.Context) error
	Close() error
}
