// Package lock serializes refresh attempts across independent processes
// that share persisted storage. Two strategies exist behind one interface:
// a native blocking primitive when the storage backend offers one, and a
// polled lease record on plain key/value storage otherwise.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/sessionkit/sessionkit/internal/kvstore"
)

// ErrNotAcquired reports that the fallback path exhausted its retry budget
// without acquiring the lock. Callers treat it as a recoverable "skip this
// attempt" condition, not a fatal error.
var ErrNotAcquired = errors.New("lock: not acquired within retry budget")

// Locker runs a callback with exclusive ownership of a key. Release is
// guaranteed on every exit path: success, error, or timeout.
type Locker interface {
	Acquire(ctx context.Context, key string, lease time.Duration, fn func(context.Context) error) error
}

// Native is implemented by storage backends exposing a blocking
// mutual-exclusion primitive keyed by name (e.g. PostgreSQL advisory
// locks). Callers queue instead of polling.
type Native interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// New probes the storage backend's capabilities and returns the native
// locker when available, otherwise the lease-record fallback.
func New(store kvstore.Store, opts LeaseOptions) Locker {
	if native, ok := store.(Native); ok {
		return &nativeLocker{native: native}
	}
	return NewLeaseLocker(store, opts)
}

type nativeLocker struct {
	native Native
}

// Acquire delegates to the backend primitive. The lease is unused: the
// backend releases the lock when the holder's session ends, so a crashed
// holder cannot wedge it.
func (l *nativeLocker) Acquire(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	return l.native.WithLock(ctx, key, fn)
}
