package realtime

import "context"

// Channel abstracts the persistent duplex transport carrying Messages.
type Channel interface {
	// Connect establishes the channel. Calling Connect on an already
	// connected channel is a no-op.
	Connect(ctx context.Context) error
	// Send writes one message. It fails synchronously when the channel is
	// not connected or the write cannot complete.
	Send(ctx context.Context, msg Message) error
	// OnMessage registers a handler for every inbound message and returns
	// the function that removes it again.
	OnMessage(handler func(Message)) (unsubscribe func())
}
