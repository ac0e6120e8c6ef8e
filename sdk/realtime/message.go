// Package realtime authenticates a persistent duplex channel and keeps it
// authenticated: it sends the auth handshake after login and transparently
// rotates the channel's credential when the server reports token expiry.
// The channel's credential lineage is independent of the main session
// store's refresh token.
package realtime

// Message is the JSON payload exchanged over the channel. Only auth
// messages are interpreted here; everything else passes through to
// subscribed handlers untouched.
type Message struct {
	Type         string        `json:"type"`
	Email        string        `json:"email,omitempty"`
	Password     string        `json:"password,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	Status       string        `json:"status,omitempty"`
	Error        *MessageError `json:"error,omitempty"`
}

// MessageError carries the server error attached to a failed auth message.
type MessageError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

const (
	// MessageTypeAuth identifies handshake messages in both directions.
	MessageTypeAuth = "auth"
	// StatusOK marks a successful inbound auth response.
	StatusOK = "ok"
	// StatusError marks a failed inbound auth response.
	StatusError = "error"
	// CodeTokenExpired is the server error code that triggers an automatic
	// re-handshake with the rotation token.
	CodeTokenExpired = "TOKEN_EXPIRED"
)
