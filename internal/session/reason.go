package session

// Reason records why a session terminated.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonPeerClosed means the peer sent a close frame.
	ReasonPeerClosed
	// ReasonProtocolError means the transport failed to deliver a valid frame.
	ReasonProtocolError
	// ReasonTimeout means no ping or pong arrived within the client timeout.
	ReasonTimeout
	// ReasonWriteFailed means an outbound frame could not be written.
	ReasonWriteFailed
	// ReasonShutdown means the session was asked to stop locally.
	ReasonShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonPeerClosed:
		return "peer closed"
	case ReasonProtocolError:
		return "protocol error"
	case ReasonTimeout:
		return "heartbeat timeout"
	case ReasonWriteFailed:
		return "write failed"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Voluntary reports whether the peer chose to end the session.
func (r Reason) Voluntary() bool {
	return r == ReasonPeerClosed
}
