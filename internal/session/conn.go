package session

import "github.com/luciancaetano/wsecho/internal/protocol"

// Conn is the message-oriented transport a Session runs over.
//
// Implementations must allow Send and Close to be called while Receive is
// blocked in another goroutine, and Close must unblock Receive.
type Conn interface {
	// Receive blocks, passing each inbound frame to fn in arrival order,
	// until the transport fails, the peer's close frame has been delivered,
	// fn returns false, or the conn is closed. Control frames (ping, pong,
	// close) are delivered in the same stream as data frames.
	Receive(fn func(protocol.Frame) bool) error

	// Send writes one complete frame.
	Send(f protocol.Frame) error

	// Close releases the underlying connection.
	Close() error

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}
