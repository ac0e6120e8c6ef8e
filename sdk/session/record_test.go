package session

import (
	"testing"
	"time"
)

func TestCredentialRecordExpiredAt(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_000_000)
	tests := []struct {
		name    string
		rec     CredentialRecord
		expired bool
	}{
		{"no expiry never expires", CredentialRecord{AccessToken: "tok"}, false},
		{"future expiry", CredentialRecord{AccessToken: "tok", ExpiresAt: 1_000_001}, false},
		{"exact expiry instant", CredentialRecord{AccessToken: "tok", ExpiresAt: 1_000_000}, true},
		{"past expiry", CredentialRecord{AccessToken: "tok", ExpiresAt: 999_999}, true},
		{"zero record", CredentialRecord{}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.rec.ExpiredAt(now); got != tt.expired {
				t.Errorf("ExpiredAt() = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestCredentialRecordIsZero(t *testing.T) {
	t.Parallel()

	if !(CredentialRecord{}).IsZero() {
		t.Error("zero record should report IsZero")
	}
	if (CredentialRecord{AccessToken: "tok"}).IsZero() {
		t.Error("record with access token should not report IsZero")
	}
	if (CredentialRecord{RefreshToken: "ref"}).IsZero() {
		t.Error("record with refresh token should not report IsZero")
	}
}
