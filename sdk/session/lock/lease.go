package lock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sessionkit/sessionkit/internal/kvstore"
)

// Fallback tuning defaults. The poll interval and attempt budget bound how
// long a loser waits before abandoning the attempt (10 x 50ms = 500ms).
const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultMaxAttempts  = 10
)

// LeaseOptions tunes the fallback acquisition loop.
type LeaseOptions struct {
	// PollInterval is the sleep between acquisition attempts.
	PollInterval time.Duration
	// MaxAttempts bounds the acquisition loop; exhaustion yields ErrNotAcquired.
	MaxAttempts int

	now func() time.Time // test hook
}

// leaseRecord is the persisted lock record. The expiry bounds the damage of
// a crashed holder: once the lease clock passes, the next acquirer proceeds.
type leaseRecord struct {
	Owner     string `json:"owner"`
	ExpiresAt int64  `json:"expires_at"` // unix milliseconds
}

// LeaseLocker implements Locker on plain key/value storage by polling a
// persisted lease record.
type LeaseLocker struct {
	store kvstore.Store
	opts  LeaseOptions
	owner string
}

// NewLeaseLocker constructs the fallback locker with a unique owner
// identity used to scope releases.
func NewLeaseLocker(store kvstore.Store, opts LeaseOptions) *LeaseLocker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &LeaseLocker{store: store, opts: opts, owner: uuid.NewString()}
}

// Acquire loops reading the lock record: absent or expired means the lock
// is free and a fresh lease is written before running fn. A live record
// means sleeping one poll interval and retrying, up to the attempt budget.
// The record is deleted afterward only when ownership was actually taken.
func (l *LeaseLocker) Acquire(ctx context.Context, key string, lease time.Duration, fn func(context.Context) error) error {
	for attempt := 0; attempt < l.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.opts.PollInterval):
			}
		}

		free, err := l.lockFree(ctx, key)
		if err != nil {
			return err
		}
		if !free {
			continue
		}

		record := leaseRecord{Owner: l.owner, ExpiresAt: l.opts.now().Add(lease).UnixMilli()}
		raw, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err = l.store.Write(ctx, key, string(raw)); err != nil {
			return err
		}
		// Read back to catch a concurrent writer that overwrote the record
		// between our read and write; losing the write means retrying.
		if owned, errVerify := l.ownsLock(ctx, key); errVerify != nil {
			return errVerify
		} else if !owned {
			continue
		}

		defer func() {
			// Release must happen even when fn failed or ctx was cancelled.
			if errRelease := l.release(context.Background(), key); errRelease != nil {
				log.WithField("key", key).Warnf("lock: release failed: %v", errRelease)
			}
		}()
		return fn(ctx)
	}
	return ErrNotAcquired
}

func (l *LeaseLocker) ownsLock(ctx context.Context, key string) (bool, error) {
	raw, ok, err := l.store.Read(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	var record leaseRecord
	if err = json.Unmarshal([]byte(raw), &record); err != nil {
		return false, nil
	}
	return record.Owner == l.owner, nil
}

func (l *LeaseLocker) lockFree(ctx context.Context, key string) (bool, error) {
	raw, ok, err := l.store.Read(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	var record leaseRecord
	if err = json.Unmarshal([]byte(raw), &record); err != nil {
		// A corrupt record cannot name a live holder; treat the lock as free.
		return true, nil
	}
	return record.ExpiresAt <= l.opts.now().UnixMilli(), nil
}

// release deletes the lock record only while this locker still owns it.
func (l *LeaseLocker) release(ctx context.Context, key string) error {
	raw, ok, err := l.store.Read(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var record leaseRecord
	if err = json.Unmarshal([]byte(raw), &record); err == nil && record.Owner != l.owner {
		// Another process took over after our lease expired; leave its record.
		return nil
	}
	return l.store.Remove(ctx, key)
}
