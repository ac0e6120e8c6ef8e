package realtime

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Handshake drives the channel-scoped auth protocol: password auth on
// login, rotation-token re-auth when the server reports expiry. The
// rotation token is a separate lineage from the main session's refresh
// token; it is recorded from successful inbound auth responses and used
// only on this channel.
type Handshake struct {
	ch Channel

	mu       sync.Mutex
	rotation string
	unsub    func()
}

// NewHandshake wraps a channel. No listener is installed until Begin.
func NewHandshake(ch Channel) *Handshake {
	return &Handshake{ch: ch}
}

// Begin authenticates the channel with the login credentials and installs
// the re-auth listener. On a synchronous send failure the channel is
// (re)established and the send retried exactly once. Exactly one listener
// exists per login; a second Begin replaces the previous listener.
func (h *Handshake) Begin(ctx context.Context, identifier, secret string) error {
	// The listener goes in before the send: the auth response can arrive
	// the moment the send returns, and a rotation token it carries must
	// not be lost.
	h.mu.Lock()
	if h.unsub != nil {
		h.unsub()
	}
	h.unsub = h.ch.OnMessage(h.handle)
	h.mu.Unlock()

	msg := Message{Type: MessageTypeAuth, Email: identifier, Password: secret}
	if err := h.ch.Send(ctx, msg); err != nil {
		if errConnect := h.ch.Connect(ctx); errConnect != nil {
			h.Close()
			return errConnect
		}
		if err = h.ch.Send(ctx, msg); err != nil {
			h.Close()
			return err
		}
	}
	return nil
}

// Close removes the re-auth listener and forgets the rotation token. Safe
// to call without a prior Begin.
func (h *Handshake) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsub != nil {
		h.unsub()
		h.unsub = nil
	}
	h.rotation = ""
}

func (h *Handshake) handle(msg Message) {
	if msg.Type != MessageTypeAuth {
		return
	}
	switch msg.Status {
	case StatusOK:
		if msg.RefreshToken != "" {
			h.mu.Lock()
			h.rotation = msg.RefreshToken
			h.mu.Unlock()
		}
	case StatusError:
		if msg.Error == nil || msg.Error.Code != CodeTokenExpired {
			return
		}
		h.mu.Lock()
		rotation := h.rotation
		h.mu.Unlock()
		if rotation == "" {
			// Without a recorded rotation token the channel cannot
			// re-authenticate itself; the caller must log in again.
			return
		}
		if err := h.ch.Send(context.Background(), Message{Type: MessageTypeAuth, RefreshToken: rotation}); err != nil {
			log.Warnf("realtime: re-auth send failed: %v", err)
		}
	}
}
