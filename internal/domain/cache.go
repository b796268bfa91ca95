package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking, used to serialise session
// mutations per sessionUid across processes (spec §5).
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting, used to bound the rate of
// signing-session creation per courier.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
