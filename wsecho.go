package wsecho

import (
	"context"
	"time"
)

// Server defines the interface for the echo server.
//
// Example usage:
//
//	import "github.com/luciancaetano/wsecho/ws"
//
//	server := ws.New(ws.NewConfig("127.0.0.1:8081", ws.DefaultHeartbeat(), ws.AllOrigins(), nil, nil))
//	server.Start(ctx)
type Server interface {
	// Start starts the server and begins accepting upgrade requests.
	//
	// Returns an error if the server is already running or if there's a problem
	// binding to the network address.
	Start(ctx context.Context) error

	// Stop terminates every live session, stops accepting connections and
	// waits for session goroutines to exit or ctx to expire.
	Stop(ctx context.Context) error

	// Addr returns the address the server is listening on, or the configured
	// address if it has not been started.
	Addr() string
}

// Session represents one accepted connection from upgrade to close.
//
// Sessions are handed to the connect and disconnect hooks. They are never
// looked up by other sessions.
type Session interface {
	// ID returns a unique identifier generated when the connection was accepted.
	ID() string

	// RemoteAddr returns the peer's network address, for example "192.168.1.100:54321".
	RemoteAddr() string

	// LastHeartbeat returns the time of the most recent ping or pong received
	// from the peer, or the session creation time if none arrived yet.
	LastHeartbeat() time.Time

	// State returns the current lifecycle state.
	State() State

	// Done is closed once the session reaches StateClosed.
	Done() <-chan struct{}

	// Close asks the session to terminate. It is safe to call any number of
	// times from any goroutine.
	Close()
}

// State is the lifecycle state of a Session.
type State int32

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
