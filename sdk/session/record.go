// Package session implements the client-side authentication session: it
// owns the credential record, keeps it alive via proactive refresh,
// collapses concurrent refresh attempts into one network call, and keeps
// cooperating processes from refreshing the same credential at once.
package session

import "time"

// CredentialRecord is the sole persisted entity: the bearer token pair plus
// the derived expiry timestamp. The zero value represents an
// unauthenticated session.
type CredentialRecord struct {
	// AccessToken is the bearer token attached to API requests.
	AccessToken string `json:"access_token,omitempty"`
	// RefreshToken is exchanged for a new token pair when the access token
	// nears expiry.
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresIn is the server-reported token lifetime at issuance, in
	// milliseconds. Zero means the server reported no lifetime.
	ExpiresIn int64 `json:"expires_in,omitempty"`
	// ExpiresAt is the absolute expiry in unix milliseconds. It is always
	// derived from the issuance time plus ExpiresIn, never supplied by a
	// caller, and zero exactly when ExpiresIn is zero.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// IsZero reports whether the record represents an unauthenticated session.
func (r CredentialRecord) IsZero() bool {
	return r.AccessToken == "" && r.RefreshToken == "" && r.ExpiresIn == 0 && r.ExpiresAt == 0
}

// HasExpiry reports whether the record carries an expiry timestamp.
func (r CredentialRecord) HasExpiry() bool {
	return r.ExpiresAt > 0
}

// ExpiredAt reports whether the access token has expired at the given
// instant. Records without an expiry never expire.
func (r CredentialRecord) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt > 0 && now.UnixMilli() >= r.ExpiresAt
}
