// Package kvstore provides the persisted key/value backends shared by
// credential stores and the cross-context lock fallback. A backend is a
// passive value holder: it performs no validation and must reflect the
// latest write on every read, even when the medium is shared across
// processes.
package kvstore

import "context"

// Store is the minimal persisted key/value contract.
type Store interface {
	// Read returns the value stored under key. The second return value is
	// false when no value exists.
	Read(ctx context.Context, key string) (string, bool, error)
	// Write stores value under key, replacing any existing value.
	Write(ctx context.Context, key, value string) error
	// Remove deletes the value stored under key. Removing an absent key is
	// not an error.
	Remove(ctx context.Context, key string) error
}
