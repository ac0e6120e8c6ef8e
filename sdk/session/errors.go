package session

import (
	"errors"
	"fmt"

	"github.com/sessionkit/sessionkit/internal/transport"
)

// ErrUnauthenticated reports an operation that needs a credential record
// while none is stored.
var ErrUnauthenticated = errors.New("session: not authenticated")

// AuthError reports that the server rejected the supplied credentials or
// refresh token.
type AuthError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("session: auth rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("session: auth rejected (%d): %s", e.StatusCode, e.Message)
}

// wrapTransportError maps transport failures onto the session taxonomy:
// 401/403 responses become *AuthError, everything else passes through
// (network failures keep their *transport.NetworkError type).
func wrapTransportError(err error) error {
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == 401 || statusErr.StatusCode == 403) {
		return &AuthError{StatusCode: statusErr.StatusCode, Code: statusErr.Code, Message: statusErr.Message}
	}
	return err
}
