package wsecho

import "time"

// Heartbeat defaults.
const (
	// DefaultHeartbeatInterval is how often the server pings each peer.
	DefaultHeartbeatInterval = 5 * time.Second
	// DefaultClientTimeout is how long a peer may go without sending a ping
	// or pong before its session is dropped.
	DefaultClientTimeout = 10 * time.Second
)

// Server defaults.
const (
	DefaultAddr           = "127.0.0.1:8081"
	DefaultPath           = "/ws"
	DefaultWorkers        = 2
	DefaultMaxMessageSize = 10 * 1024 * 1024
	DefaultWriteWait      = 10 * time.Second
)

// Standard error messages
const (
	ErrServerAlreadyRunning = "server already running"
	ErrSessionAlreadyRun    = "session already running"
	ErrUpgradeFailed        = "failed to upgrade connection"
	ErrTooManyRequests      = "too many connection attempts"
	ErrMethodNotAllowed     = "method not allowed"
)

// ShutdownReason is the close reason sent to peers when the server stops.
const ShutdownReason = "server shutting down"
