package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/wsecho"
	"github.com/luciancaetano/wsecho/internal/protocol"
)

// ErrAlreadyRunning is returned by Run when the session has already been run.
var ErrAlreadyRunning = errors.New(wsecho.ErrSessionAlreadyRun)

// Config holds the immutable settings of a session.
type Config struct {
	// HeartbeatInterval is the period of the liveness check and server ping.
	HeartbeatInterval time.Duration
	// ClientTimeout is the longest the peer may stay silent on ping/pong.
	ClientTimeout time.Duration
	// Clock drives the heartbeat ticker and timestamps. Defaults to the real clock.
	Clock clockwork.Clock
	// Logger receives session events. Defaults to the logrus standard logger.
	Logger *logrus.Entry
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = wsecho.DefaultHeartbeatInterval
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = wsecho.DefaultClientTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

// Session owns one connection for its whole lifetime. All frame handling and
// heartbeat checks run on the goroutine that calls Run, so the heartbeat
// timestamp and the outbound side of the conn have a single writer.
type Session struct {
	id    string
	conn  Conn
	cfg   Config
	clock clockwork.Clock
	log   *logrus.Entry

	mu            sync.RWMutex
	lastHeartbeat time.Time

	state   atomic.Int32
	started atomic.Bool
	reason  Reason

	quit       chan struct{}
	quitOnce   sync.Once
	closing    chan struct{}
	readerDone chan struct{}
	done       chan struct{}
}

var _ wsecho.Session = (*Session)(nil)

// New creates a session for an accepted connection. The heartbeat clock
// starts now; the ticker starts when Run is called.
func New(conn Conn, cfg Config) *Session {
	cfg = cfg.withDefaults()
	id := uuid.New().String()

	s := &Session{
		id:         id,
		conn:       conn,
		cfg:        cfg,
		clock:      cfg.Clock,
		quit:       make(chan struct{}),
		closing:    make(chan struct{}),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.log = cfg.Logger.WithFields(logrus.Fields{
		"session_id":  id,
		"remote_addr": conn.RemoteAddr(),
	})
	s.lastHeartbeat = s.clock.Now()
	s.state.Store(int32(wsecho.StateActive))
	return s
}

// ID returns the session identifier generated in New.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address reported by the conn.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// LastHeartbeat returns the time of the latest ping or pong from the peer,
// or the creation time if none has arrived.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

// State returns the current lifecycle state.
func (s *Session) State() wsecho.State {
	return wsecho.State(s.state.Load())
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Reason returns why the session terminated. It is ReasonNone until Done is closed.
func (s *Session) Reason() Reason {
	select {
	case <-s.done:
		return s.reason
	default:
		return ReasonNone
	}
}

// Close asks the running session to terminate with ReasonShutdown. Triggers
// racing with a peer close or a heartbeat timeout resolve to one of them.
func (s *Session) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Run drives the session until it terminates and returns the reason.
// Cancelling ctx has the same effect as Close.
func (s *Session) Run(ctx context.Context) (Reason, error) {
	if !s.started.CompareAndSwap(false, true) {
		return ReasonNone, ErrAlreadyRunning
	}

	ticker := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	inbound := make(chan protocol.Frame)
	readErr := make(chan error, 1)
	go s.receive(inbound, readErr)

	s.log.Debug("session opened")

	for {
		var (
			reason Reason
			final  *protocol.Frame
		)

		select {
		case f := <-inbound:
			reason, final = s.handle(f)
		case err := <-readErr:
			s.log.WithError(err).Warn("read failed, terminating session")
			reason = ReasonProtocolError
		case <-ticker.Chan():
			reason = s.heartbeat()
		case <-s.quit:
			reason, final = ReasonShutdown, shutdownFrame()
		case <-ctx.Done():
			reason, final = ReasonShutdown, shutdownFrame()
		}

		if reason != ReasonNone {
			return s.terminate(ticker, reason, final), nil
		}
	}
}

func shutdownFrame() *protocol.Frame {
	f := protocol.Close(protocol.CloseGoingAway, wsecho.ShutdownReason)
	return &f
}

// receive pumps frames from the conn into inbound until the conn ends or the
// session starts closing.
func (s *Session) receive(inbound chan<- protocol.Frame, errc chan<- error) {
	defer close(s.readerDone)

	errc <- s.conn.Receive(func(f protocol.Frame) bool {
		select {
		case inbound <- f:
			return true
		case <-s.closing:
			return false
		}
	})
}

// handle reacts to one inbound frame. A non-zero reason ends the session,
// with final written first when it is non-nil.
func (s *Session) handle(f protocol.Frame) (Reason, *protocol.Frame) {
	s.log.WithField("frame", f.String()).Debug("frame received")

	switch f.Kind {
	case protocol.KindPing:
		s.touch()
		if !s.send(protocol.Pong(f.Payload)) {
			return ReasonWriteFailed, nil
		}
	case protocol.KindPong:
		s.touch()
	case protocol.KindText:
		if !s.send(protocol.EchoText(f.Payload)) {
			return ReasonWriteFailed, nil
		}
	case protocol.KindBinary:
		if !s.send(protocol.Binary(f.Payload)) {
			return ReasonWriteFailed, nil
		}
	case protocol.KindClose:
		echo := protocol.Close(f.Code, f.Reason)
		return ReasonPeerClosed, &echo
	default:
		s.log.WithField("kind", f.Kind.String()).Warn("unrecognized frame, terminating session")
		return ReasonProtocolError, nil
	}
	return ReasonNone, nil
}

// heartbeat runs on every tick: it drops a silent peer or pings it.
func (s *Session) heartbeat() Reason {
	idle := s.clock.Since(s.LastHeartbeat())
	if idle > s.cfg.ClientTimeout {
		s.log.WithField("idle", idle).Info("heartbeat timed out, disconnecting")
		return ReasonTimeout
	}

	if !s.send(protocol.Ping([]byte{})) {
		return ReasonWriteFailed
	}
	return ReasonNone
}

// touch records liveness evidence from the peer.
func (s *Session) touch() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastHeartbeat) {
		s.lastHeartbeat = now
	}
}

func (s *Session) send(f protocol.Frame) bool {
	if err := s.conn.Send(f); err != nil {
		s.log.WithError(err).WithField("frame", f.String()).Debug("write failed")
		return false
	}
	return true
}

// terminate moves the session through Closing to Closed. Only the Run
// goroutine calls it, and only once.
func (s *Session) terminate(ticker clockwork.Ticker, reason Reason, final *protocol.Frame) Reason {
	ticker.Stop()
	s.state.Store(int32(wsecho.StateClosing))
	close(s.closing)

	if final != nil {
		s.send(*final)
	}
	if err := s.conn.Close(); err != nil {
		s.log.WithError(err).Debug("close failed")
	}
	<-s.readerDone

	s.reason = reason
	s.state.Store(int32(wsecho.StateClosed))
	close(s.done)

	s.log.WithField("reason", reason.String()).Info("session closed")
	return reason
}
