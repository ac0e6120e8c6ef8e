package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sessionkit/sessionkit/internal/kvstore"
)

// CredentialStore abstracts persistence of the credential record. Stores
// are passive value holders: no validation, and a read before any write
// returns the zero record. Get must reflect the latest write even when the
// backing medium is shared across processes.
type CredentialStore interface {
	Get(ctx context.Context) (CredentialRecord, error)
	Set(ctx context.Context, rec CredentialRecord) error
}

// MemoryStore is the default process-local CredentialStore.
type MemoryStore struct {
	mu  sync.RWMutex
	rec CredentialRecord
}

// NewMemoryStore constructs an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the current record.
func (s *MemoryStore) Get(_ context.Context) (CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec, nil
}

// Set replaces the current record.
func (s *MemoryStore) Set(_ context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
	return nil
}

// DefaultCredentialKey is the storage key used by KVStore when none is
// configured.
const DefaultCredentialKey = "sessionkit.credentials"

// KVStore persists the credential record as JSON in any kvstore backend,
// making it visible to every process sharing that medium. Each Get reads
// through to the backend so externally refreshed credentials are picked up.
type KVStore struct {
	store kvstore.Store
	key   string
}

// NewKVStore wraps a key/value backend as a CredentialStore.
func NewKVStore(store kvstore.Store, key string) *KVStore {
	if key == "" {
		key = DefaultCredentialKey
	}
	return &KVStore{store: store, key: key}
}

// Get returns the latest persisted record, or the zero record when nothing
// has been stored yet.
func (s *KVStore) Get(ctx context.Context) (CredentialRecord, error) {
	raw, ok, err := s.store.Read(ctx, s.key)
	if err != nil {
		return CredentialRecord{}, err
	}
	if !ok || raw == "" {
		return CredentialRecord{}, nil
	}
	var rec CredentialRecord
	if err = json.Unmarshal([]byte(raw), &rec); err != nil {
		return CredentialRecord{}, fmt.Errorf("session: decode stored credentials: %w", err)
	}
	return rec, nil
}

// Set persists the record. The zero record is stored as a removal so other
// processes observe the logout.
func (s *KVStore) Set(ctx context.Context, rec CredentialRecord) error {
	if rec.IsZero() {
		return s.store.Remove(ctx, s.key)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode credentials: %w", err)
	}
	return s.store.Write(ctx, s.key, string(raw))
}
