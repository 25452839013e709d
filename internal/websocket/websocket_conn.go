package websocket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsecho/internal/protocol"
	"github.com/luciancaetano/wsecho/internal/session"
)

// errStopped is returned from control handlers to break out of ReadMessage
// once the session no longer wants frames.
var errStopped = errors.New("receive stopped")

// Conn adapts a gorilla connection to session.Conn.
//
// Gorilla consumes control frames inside ReadMessage and reports them through
// handlers; Conn installs handlers that forward them into the same stream as
// data messages, so the session sees every frame in arrival order.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string
	writeWait  time.Duration

	mu     sync.Mutex
	closed bool
}

var _ session.Conn = (*Conn)(nil)

// NewConn wraps an upgraded connection. maxMessageSize <= 0 leaves the read
// limit unset.
func NewConn(conn *websocket.Conn, remoteAddr string, maxMessageSize int64, writeWait time.Duration) *Conn {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &Conn{
		conn:       conn,
		remoteAddr: remoteAddr,
		writeWait:  writeWait,
	}
}

// RemoteAddr returns the client's remote network address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Receive reads frames until the connection fails or the peer's close frame
// has been delivered.
func (c *Conn) Receive(fn func(protocol.Frame) bool) error {
	closeDelivered := false

	c.conn.SetPingHandler(func(appData string) error {
		if !fn(protocol.Ping([]byte(appData))) {
			return errStopped
		}
		return nil
	})
	c.conn.SetPongHandler(func(appData string) error {
		if !fn(protocol.Pong([]byte(appData))) {
			return errStopped
		}
		return nil
	})
	// Returning nil keeps gorilla from writing its own close reply; the
	// session echoes the close frame itself.
	c.conn.SetCloseHandler(func(code int, text string) error {
		closeDelivered = fn(protocol.Close(code, text))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			var closeErr *websocket.CloseError
			if closeDelivered && errors.As(err, &closeErr) {
				return nil
			}
			return err
		}

		var f protocol.Frame
		switch messageType {
		case websocket.TextMessage:
			f = protocol.Frame{Kind: protocol.KindText, Payload: data}
		case websocket.BinaryMessage:
			f = protocol.Binary(data)
		default:
			return fmt.Errorf("unexpected message type %d", messageType)
		}

		if !fn(f) {
			return nil
		}
	}
}

// Send writes one frame with the configured write deadline.
func (c *Conn) Send(f protocol.Frame) error {
	deadline := time.Now().Add(c.writeWait)

	switch f.Kind {
	case protocol.KindText:
		return c.writeMessage(websocket.TextMessage, f.Payload, deadline)
	case protocol.KindBinary:
		return c.writeMessage(websocket.BinaryMessage, f.Payload, deadline)
	case protocol.KindPing:
		return c.conn.WriteControl(websocket.PingMessage, f.Payload, deadline)
	case protocol.KindPong:
		return c.conn.WriteControl(websocket.PongMessage, f.Payload, deadline)
	case protocol.KindClose:
		// FormatCloseMessage encodes CloseNoStatusReceived as an empty payload.
		return c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(f.Code, f.Reason), deadline)
	default:
		return fmt.Errorf("unsupported frame kind %s", f.Kind)
	}
}

func (c *Conn) writeMessage(messageType int, data []byte, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Close closes the underlying network connection, unblocking Receive.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
