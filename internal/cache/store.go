package cache

import (
	"context"
	"errors"
	"time"
)

// Store is the ephemeral key-value contract used for fast-path dedup,
// lock tokens and rate-limit windows.
//
// Implementations must make SetNX, CompareAndExpire, CompareAndDelete and
// IncrWindow atomic with respect to concurrent callers.
type Store interface {
	// SetNX sets key only if absent. Returns true when this call created it.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	// CompareAndExpire resets the TTL only while key still holds expected.
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// IncrWindow increments a counter whose window starts at the first hit.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

var ErrInvalidArgument = errors.New("cache: invalid argument")
