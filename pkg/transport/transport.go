package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	ErrConnClosed       = errors.New("push connection closed")
	ErrChannelClosed    = errors.New("channel closed")
	ErrInvalidEntity    = errors.New("invalid entity type")
	ErrUnsupportedFrame = errors.New("unsupported frame")
)

// Handler receives the traffic of one channel.
// Both callbacks are invoked from the connection's delivery goroutine and
// must not block.
type Handler struct {
	// OnEvent is called for every change notification, in delivery order.
	OnEvent func(Event)

	// OnClose is called at most once if the channel errors or is closed by
	// the remote side. It is not called for a local Channel.Close or when
	// the whole connection drops.
	OnClose func(error)
}

// Channel is one live (entityType, filter) subscription on a connection.
type Channel interface {
	// Close unsubscribes. Closing twice is a no-op.
	Close() error
}

// Conn is one established push connection.
// Implementations must be safe for concurrent use.
type Conn interface {
	// ID uniquely identifies the connection (for logs).
	ID() string

	// Subscribe opens a change channel for entityType, optionally filtered.
	Subscribe(entityType string, filter Filter, h Handler) (Channel, error)

	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}

	// Err returns why the connection ended, once Done is closed.
	Err() error

	// Close closes the connection and all of its channels.
	Close() error
}

// Dialer establishes push connections.
type Dialer interface {
	// Dial connects. It must honor ctx cancellation and deadline.
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
