package session

import (
	"context"
	"testing"

	"github.com/sessionkit/sessionkit/internal/kvstore"
)

func TestMemoryStoreReadBeforeWrite(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	rec, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !rec.IsZero() {
		t.Errorf("Get() before any Set returned %+v, want the zero record", rec)
	}
}

func TestKVStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := kvstore.NewMemoryStore()
	store := NewKVStore(backend, "")

	rec, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !rec.IsZero() {
		t.Errorf("Get() on an empty backend returned %+v", rec)
	}

	want := CredentialRecord{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 900_000, ExpiresAt: 1_700_000_900_000}
	if err = store.Set(ctx, want); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestKVStoreSeesExternalWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := kvstore.NewMemoryStore()
	a := NewKVStore(backend, DefaultCredentialKey)
	b := NewKVStore(backend, DefaultCredentialKey)

	want := CredentialRecord{AccessToken: "external", ExpiresIn: 60_000, ExpiresAt: 1_700_000_060_000}
	if err := a.Set(ctx, want); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	got, err := b.Get(ctx)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != want {
		t.Errorf("second store Get() = %+v, want the record written by the first", got)
	}
}

func TestKVStoreZeroRecordRemoves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := kvstore.NewMemoryStore()
	store := NewKVStore(backend, "auth")

	if err := store.Set(ctx, CredentialRecord{AccessToken: "at"}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Set(ctx, CredentialRecord{}); err != nil {
		t.Fatalf("Set(zero) failed: %v", err)
	}
	if _, ok, err := backend.Read(ctx, "auth"); err != nil {
		t.Fatalf("Read() failed: %v", err)
	} else if ok {
		t.Error("backend still holds a value after the zero record was stored")
	}
}

func TestKVStoreCorruptPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := kvstore.NewMemoryStore()
	if err := backend.Write(ctx, DefaultCredentialKey, "{not json"); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if _, err := NewKVStore(backend, "").Get(ctx); err == nil {
		t.Error("Get() succeeded on a corrupt payload")
	}
}
