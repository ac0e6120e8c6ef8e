package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type scriptedChannel struct {
	mu        sync.Mutex
	outbound  []Message
	handlers  map[int]func(Message)
	next      int
	sendErrs  []error // consumed one per Send; nil means success
	connects  int
	connected bool
	// onSend, when set, runs synchronously after a successful Send returns
	// control, outside the channel mutex.
	onSend func(Message)
}

func newScriptedChannel() *scriptedChannel {
	return &scriptedChannel{handlers: make(map[int]func(Message)), connected: true}
}

func (c *scriptedChannel) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	c.connected = true
	return nil
}

func (c *scriptedChannel) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.outbound = append(c.outbound, msg)
	onSend := c.onSend
	c.mu.Unlock()
	if onSend != nil {
		onSend(msg)
	}
	return nil
}

func (c *scriptedChannel) OnMessage(handler func(Message)) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.handlers[id] = handler
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

func (c *scriptedChannel) deliver(msg Message) {
	c.mu.Lock()
	handlers := make([]func(Message), 0, len(c.handlers))
	for _, handler := range c.handlers {
		handlers = append(handlers, handler)
	}
	c.mu.Unlock()
	for _, handler := range handlers {
		handler(msg)
	}
}

func (c *scriptedChannel) sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.outbound...)
}

func expiredMessage() Message {
	return Message{Type: MessageTypeAuth, Status: StatusError, Error: &MessageError{Code: CodeTokenExpired}}
}

func TestHandshakeBeginSendsCredentials(t *testing.T) {
	t.Parallel()

	ch := newScriptedChannel()
	h := NewHandshake(ch)
	if err := h.Begin(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	sent := ch.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	msg := sent[0]
	if msg.Type != MessageTypeAuth || msg.Email != "user@example.com" || msg.Password != "secret" {
		t.Errorf("unexpected auth message: %+v", msg)
	}
	if ch.connects != 0 {
		t.Errorf("Connect called %d times on a healthy channel, want 0", ch.connects)
	}
}

func TestHandshakeRetriesSendOnceAfterReconnect(t *testing.T) {
	t.Parallel()

	ch := newScriptedChannel()
	ch.sendErrs = []error{errors.New("not connected")}
	h := NewHandshake(ch)
	if err := h.Begin(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if ch.connects != 1 {
		t.Errorf("Connect called %d times, want 1", ch.connects)
	}
	if got := len(ch.sent()); got != 1 {
		t.Errorf("sent %d messages, want 1 after the retry", got)
	}

	// Both the first send and the retry fail: the error surfaces, no loop.
	ch2 := newScriptedChannel()
	ch2.sendErrs = []error{errors.New("down"), errors.New("still down")}
	if err := NewHandshake(ch2).Begin(context.Background(), "user@example.com", "secret"); err == nil {
		t.Fatal("Begin() succeeded although both sends failed")
	}
	if got := len(ch2.sent()); got != 0 {
		t.Errorf("sent %d messages, want 0", got)
	}
}

func TestHandshakeRotationReplay(t *testing.T) {
	t.Parallel()

	ch := newScriptedChannel()
	h := NewHandshake(ch)
	if err := h.Begin(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	ch.deliver(Message{Type: MessageTypeAuth, Status: StatusOK, RefreshToken: "rot-1"})
	ch.deliver(expiredMessage())

	sent := ch.sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2 (login auth + rotation replay)", len(sent))
	}
	replay := sent[1]
	if replay.Type != MessageTypeAuth || replay.RefreshToken != "rot-1" {
		t.Errorf("unexpected replay message: %+v", replay)
	}
	if replay.Email != "" || replay.Password != "" {
		t.Errorf("replay message leaks credentials: %+v", replay)
	}
}

func TestHandshakeRecordsResponseArrivingDuringSend(t *testing.T) {
	t.Parallel()

	// The server's auth response races the Send call completing: it is
	// dispatched before Begin regains control.
	ch := newScriptedChannel()
	ch.onSend = func(msg Message) {
		if msg.Email != "" {
			ch.deliver(Message{Type: MessageTypeAuth, Status: StatusOK, RefreshToken: "rot-fast"})
		}
	}
	h := NewHandshake(ch)
	if err := h.Begin(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	ch.deliver(expiredMessage())
	sent := ch.sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2 (auth + rotation replay)", len(sent))
	}
	if got := sent[1].RefreshToken; got != "rot-fast" {
		t.Errorf("replay refresh token = %q, want the one delivered mid-send", got)
	}
}

func TestHandshakeNoReplayWithoutRotationToken(t *testing.T) {
	t.Parallel()

	ch := newScriptedChannel()
	h := NewHandshake(ch)
	if err := h.Begin(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	ch.deliver(expiredMessage())
	if got := len(ch.sent()); got != 1 {
		t.Errorf("sent %d messages, want only the initial auth", got)
	}
}

func TestHandshakeIgnoresUnrelatedMessages(t *testing.T) {
	t.Parallel()

	ch := newScriptedChannel()
	h := NewHandshake(ch)
	if err := h.Begin(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	ch.deliver(Message{Type: "ping"})
	ch.deliver(Message{Type: MessageTypeAuth, Status: StatusError, Error: &MessageError{Code: "INVALID_CREDENTIALS"}})
	if got := len(ch.sent()); got != 1 {
		t.Errorf("sent %d messages, want only the initial auth", got)
	}
}

func TestHandshakeCloseRemovesListener(t *testing.T) {
	t.Parallel()

	ch := newScriptedChannel()
	h := NewHandshake(ch)
	if err := h.Begin(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	ch.deliver(Message{Type: MessageTypeAuth, Status: StatusOK, RefreshToken: "rot-1"})

	h.Close()
	ch.deliver(expiredMessage())
	if got := len(ch.sent()); got != 1 {
		t.Errorf("sent %d messages after Close, want only the initial auth", got)
	}

	// A later Begin starts a fresh lineage: the old rotation token is gone.
	if err := h.Begin(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("second Begin() failed: %v", err)
	}
	ch.deliver(expiredMessage())
	if got := len(ch.sent()); got != 2 {
		t.Errorf("sent %d messages, want 2 (no replay without a fresh rotation token)", got)
	}
}
