package locks

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by lock providers and the lock service.
var (
	// ErrLockTimeout is returned when the wait budget elapses before the
	// lock becomes free. Callers should treat this as transient and
	// retryable; the service never retries on their behalf.
	ErrLockTimeout = errors.New("lock not acquired within wait budget")

	// ErrProviderUnavailable is returned when the distributed lock
	// backend cannot be reached at all.
	ErrProviderUnavailable = errors.New("lock provider unavailable")
)

// Handle is an acquired, scoped exclusivity token. It is held exclusively
// by the request or job that acquired it and must be released exactly once
// on every exit path. Release is safe to call more than once.
type Handle interface {
	// Release returns the lock to availability.
	Release(ctx context.Context) error
}

// Provider is the distributed mutual-exclusion primitive, keyed by an
// arbitrary resource name. Implementations must guarantee that at most one
// live Handle exists per key across the whole fleet at any instant.
//
// Acquire blocks until the lock is free, the wait budget elapses
// (ErrLockTimeout), or ctx is cancelled. It performs no business logic.
type Provider interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (Handle, error)
}
