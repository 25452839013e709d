package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsecho"
	"github.com/luciancaetano/wsecho/internal/session"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called after the handshake completes and before the session
// starts handling frames.
//
// Note: This function is called synchronously on the session goroutine.
// Frames from the peer are not read until it returns.
type OnConnectFn = func(s wsecho.Session)

// OnClientDisconnectFn is invoked once a session has reached StateClosed.
// voluntary is true when the peer sent a close frame, and false for protocol
// errors, heartbeat timeouts, write failures and server shutdown.
type OnClientDisconnectFn = func(s wsecho.Session, voluntary bool)

// HeartbeatConfig controls server pings and client liveness.
type HeartbeatConfig struct {
	// Interval is how often each session checks liveness and pings.
	Interval time.Duration
	// ClientTimeout is how long a client may go without a ping or pong.
	ClientTimeout time.Duration
}

// DefaultHeartbeat returns a 5s ping interval with a 10s client timeout.
func DefaultHeartbeat() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:      wsecho.DefaultHeartbeatInterval,
		ClientTimeout: wsecho.DefaultClientTimeout,
	}
}

// RateLimitConfig limits how fast the server accepts upgrade requests.
// It applies to the handshake only, never to frames inside a session.
type RateLimitConfig struct {
	// RequestsPerSecond defines how many upgrades are admitted per second
	RequestsPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 upgrades per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

type ServerConfig struct {
	Addr               string
	Path               string
	Heartbeat          HeartbeatConfig
	MaxMessageSize     int64
	WriteWait          time.Duration
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	Logger             *logrus.Logger
	// Clock drives session heartbeats. Defaults to the real clock.
	Clock clockwork.Clock
}

// Server accepts upgrade requests and runs one session per connection.
type Server struct {
	addr           string
	path           string
	heartbeat      HeartbeatConfig
	maxMessageSize int64
	writeWait      time.Duration
	clock          clockwork.Clock
	log            *logrus.Logger

	server   *http.Server
	listener net.Listener
	limiter  *rate.Limiter
	sessions sync.Map // map[string]*session.Session
	count    atomic.Int64
	wg       sync.WaitGroup

	mu           sync.RWMutex
	running      bool
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnClientDisconnectFn
}

var _ wsecho.Server = (*Server)(nil)

// New creates a server from cfg, filling unset fields with defaults.
//
// The upgrader uses read/write buffer sizes of 1024 bytes.
func New(cfg *ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = wsecho.DefaultAddr
	}
	if cfg.Path == "" {
		cfg.Path = wsecho.DefaultPath
	}
	if cfg.Heartbeat.Interval <= 0 {
		cfg.Heartbeat.Interval = wsecho.DefaultHeartbeatInterval
	}
	if cfg.Heartbeat.ClientTimeout <= 0 {
		cfg.Heartbeat.ClientTimeout = wsecho.DefaultClientTimeout
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = wsecho.DefaultMaxMessageSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = wsecho.DefaultWriteWait
	}
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	var limiter *rate.Limiter
	if cfg.RateLimitConfig.Enabled {
		limiter = rate.NewLimiter(cfg.RateLimitConfig.RequestsPerSecond, cfg.RateLimitConfig.Burst)
	}

	return &Server{
		addr:           cfg.Addr,
		path:           cfg.Path,
		heartbeat:      cfg.Heartbeat,
		maxMessageSize: cfg.MaxMessageSize,
		writeWait:      cfg.WriteWait,
		clock:          cfg.Clock,
		log:            cfg.Logger,
		limiter:        limiter,
		onConnect:      cfg.OnConnect,
		onDisconnect:   cfg.OnClientDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Start binds the listener and serves upgrade requests in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New(wsecho.ErrServerAlreadyRunning)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.logRequests(s.handleWebSocket))

	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true

	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("server stopped unexpectedly")
		}
	}(s.server)

	s.log.WithFields(logrus.Fields{
		"addr": listener.Addr().String(),
		"path": s.path,
	}).Info("echo server listening")
	return nil
}

// Stop terminates every live session, shuts down the HTTP server and waits
// for session goroutines to exit or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.sessions.Range(func(key, value interface{}) bool {
		if sess, ok := value.(*session.Session); ok {
			sess.Close()
		}
		return true
	})

	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("echo server stopped")
	return err
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// SessionCount returns the number of sessions not yet closed.
func (s *Server) SessionCount() int {
	return int(s.count.Load())
}

// handleWebSocket upgrades GET requests and hands the connection to a new session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, wsecho.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.log.WithField("remote_addr", r.RemoteAddr).Warn("upgrade rate limit exceeded")
		http.Error(w, wsecho.ErrTooManyRequests, http.StatusTooManyRequests)
		return
	}

	// Upgrade replies to the client itself on failure.
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn(wsecho.ErrUpgradeFailed)
		return
	}

	conn := NewConn(wsConn, r.RemoteAddr, s.maxMessageSize, s.writeWait)
	sess := session.New(conn, session.Config{
		HeartbeatInterval: s.heartbeat.Interval,
		ClientTimeout:     s.heartbeat.ClientTimeout,
		Clock:             s.clock,
		Logger:            logrus.NewEntry(s.log),
	})

	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		conn.Close()
		return
	}
	s.wg.Add(1)
	s.sessions.Store(sess.ID(), sess)
	s.count.Add(1)
	s.mu.RUnlock()

	go s.serveSession(sess)
}

// serveSession runs one session to completion.
func (s *Server) serveSession(sess *session.Session) {
	defer s.wg.Done()

	if s.onConnect != nil {
		s.onConnect(sess)
	}

	reason, err := sess.Run(context.Background())
	if err != nil {
		s.log.WithError(err).WithField("session_id", sess.ID()).Error("session run failed")
	}

	s.sessions.Delete(sess.ID())
	s.count.Add(-1)

	if s.onDisconnect != nil {
		s.onDisconnect(sess, reason.Voluntary())
	}
}
