package session

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/luciancaetano/wsecho/internal/protocol"
)

var errConnClosed = errors.New("use of closed connection")

// fakeConn is an in-memory Conn. Frames pushed with push are delivered to
// Receive; frames the session sends land on out.
type fakeConn struct {
	in      chan protocol.Frame
	readErr chan error
	out     chan protocol.Frame

	closed     chan struct{}
	closeOnce  sync.Once
	closeCount atomic.Int32
	failSends  atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan protocol.Frame),
		readErr: make(chan error, 1),
		out:     make(chan protocol.Frame, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Receive(fn func(protocol.Frame) bool) error {
	for {
		select {
		case f := <-c.in:
			if !fn(f) {
				return nil
			}
		case err := <-c.readErr:
			return err
		case <-c.closed:
			return errConnClosed
		}
	}
}

func (c *fakeConn) Send(f protocol.Frame) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	if c.failSends.Load() {
		return errors.New("broken pipe")
	}
	select {
	case c.out <- f:
		return nil
	default:
		return errors.New("outbound buffer full")
	}
}

func (c *fakeConn) Close() error {
	c.closeCount.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string {
	return "192.0.2.1:40000"
}

// push delivers f to the session, giving up if the conn closes first.
func (c *fakeConn) push(f protocol.Frame) bool {
	select {
	case c.in <- f:
		return true
	case <-c.closed:
		return false
	}
}
