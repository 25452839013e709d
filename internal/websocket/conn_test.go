package websocket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/wsecho"
	"github.com/luciancaetano/wsecho/internal/session"
)

type message struct {
	kind int
	data []byte
}

type client struct {
	conn *websocket.Conn
	msgs chan message
	errs chan error
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// startServer runs a server on a loopback port and stops it when the test ends.
func startServer(t *testing.T, cfg *ServerConfig) (*Server, string) {
	t.Helper()

	cfg.Addr = "127.0.0.1:0"
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = NoRateLimit()
	}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}

	server := New(cfg)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	return server, "ws://" + server.Addr() + server.path
}

// dial connects and starts a reader so control frames are processed.
func dial(t *testing.T, url string, setup func(*websocket.Conn)) *client {
	t.Helper()

	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	if setup != nil {
		setup(conn)
	}

	c := &client{conn: conn, msgs: make(chan message, 64), errs: make(chan error, 1)}
	go func() {
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				c.errs <- err
				return
			}
			c.msgs <- message{kind: kind, data: data}
		}
	}()
	return c
}

func (c *client) expectMessage(t *testing.T) message {
	t.Helper()
	select {
	case m := <-c.msgs:
		return m
	case err := <-c.errs:
		t.Fatalf("connection failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return message{}
}

func (c *client) expectError(t *testing.T, within time.Duration) error {
	t.Helper()
	select {
	case err := <-c.errs:
		return err
	case <-time.After(within):
		t.Fatal("connection was not closed")
		return nil
	}
}

func TestEchoOverWebsocket(t *testing.T) {
	t.Parallel()

	_, url := startServer(t, &ServerConfig{})
	c := dial(t, url, nil)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	m := c.expectMessage(t)
	assert.Equal(t, websocket.TextMessage, m.kind)
	assert.Equal(t, "echo: hi", string(m.data))

	payload := []byte{0x00, 0xFF, 0x10, 0x80}
	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, payload))
	m = c.expectMessage(t)
	assert.Equal(t, websocket.BinaryMessage, m.kind)
	assert.Equal(t, payload, m.data)
}

func TestClientPingGetsPong(t *testing.T) {
	t.Parallel()

	pongs := make(chan string, 1)
	_, url := startServer(t, &ServerConfig{})
	c := dial(t, url, func(conn *websocket.Conn) {
		conn.SetPongHandler(func(appData string) error {
			pongs <- appData
			return nil
		})
	})

	require.NoError(t, c.conn.WriteControl(websocket.PingMessage, []byte("abc"), time.Now().Add(time.Second)))

	select {
	case got := <-pongs:
		assert.Equal(t, "abc", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestResponsiveClientStaysConnected(t *testing.T) {
	t.Parallel()

	var pings atomic.Int32
	server, url := startServer(t, &ServerConfig{
		Heartbeat: HeartbeatConfig{Interval: 30 * time.Millisecond, ClientTimeout: 60 * time.Millisecond},
	})
	c := dial(t, url, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(appData string) error {
			pings.Add(1)
			return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		})
	})

	time.Sleep(400 * time.Millisecond)

	assert.GreaterOrEqual(t, pings.Load(), int32(5))
	assert.Equal(t, 1, server.SessionCount())

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("still here")))
	assert.Equal(t, "echo: still here", string(c.expectMessage(t).data))
}

func TestSilentClientIsDisconnected(t *testing.T) {
	t.Parallel()

	disconnected := make(chan bool, 1)
	_, url := startServer(t, &ServerConfig{
		Heartbeat: HeartbeatConfig{Interval: 30 * time.Millisecond, ClientTimeout: 60 * time.Millisecond},
		OnClientDisconnect: func(s wsecho.Session, voluntary bool) {
			disconnected <- voluntary
		},
	})

	// Never answer pings, but keep data flowing.
	c := dial(t, url, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(string) error { return nil })
	})
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				if c.conn.WriteMessage(websocket.TextMessage, []byte("data")) != nil {
					return
				}
			}
		}
	}()

	start := time.Now()
	for {
		select {
		case <-c.msgs:
			continue
		case err := <-c.errs:
			assert.Error(t, err)
			assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
		case <-time.After(2 * time.Second):
			t.Fatal("silent client was not disconnected")
		}
		break
	}

	select {
	case voluntary := <-disconnected:
		assert.False(t, voluntary)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook not called")
	}
}

func TestPeerCloseIsEchoed(t *testing.T) {
	t.Parallel()

	disconnected := make(chan bool, 1)
	server, url := startServer(t, &ServerConfig{
		OnClientDisconnect: func(s wsecho.Session, voluntary bool) {
			disconnected <- voluntary
		},
	})
	c := dial(t, url, nil)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	err := c.expectError(t, 2*time.Second)
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "bye", closeErr.Text)

	select {
	case voluntary := <-disconnected:
		assert.True(t, voluntary)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook not called")
	}
	assert.Equal(t, 0, server.SessionCount())
}

func TestPeerCloseWithoutStatus(t *testing.T) {
	t.Parallel()

	_, url := startServer(t, &ServerConfig{})
	c := dial(t, url, nil)

	require.NoError(t, c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second)))

	err := c.expectError(t, 2*time.Second)
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.CloseNoStatusReceived, closeErr.Code)
}

func TestPeerCloseApplicationCode(t *testing.T) {
	t.Parallel()

	_, url := startServer(t, &ServerConfig{})
	c := dial(t, url, nil)

	msg := websocket.FormatCloseMessage(4001, "done")
	require.NoError(t, c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	err := c.expectError(t, 2*time.Second)
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, 4001, closeErr.Code)
	assert.Equal(t, "done", closeErr.Text)
}

func TestStopClosesSessionsWithGoingAway(t *testing.T) {
	t.Parallel()

	disconnected := make(chan bool, 1)
	server, url := startServer(t, &ServerConfig{
		OnClientDisconnect: func(s wsecho.Session, voluntary bool) {
			disconnected <- voluntary
		},
	})
	c := dial(t, url, nil)

	require.Eventually(t, func() bool { return server.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	err := c.expectError(t, 2*time.Second)
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, wsecho.ShutdownReason, closeErr.Text)
	assert.False(t, <-disconnected)
}

func TestConnectHookReceivesSession(t *testing.T) {
	t.Parallel()

	sessions := make(chan wsecho.Session, 1)
	_, url := startServer(t, &ServerConfig{
		OnConnect: func(s wsecho.Session) {
			sessions <- s
		},
	})
	dial(t, url, nil)

	select {
	case s := <-sessions:
		assert.Len(t, s.ID(), 36)
		assert.True(t, strings.HasPrefix(s.RemoteAddr(), "127.0.0.1:"))
		assert.Equal(t, wsecho.StateActive, s.State())
		assert.False(t, s.LastHeartbeat().IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("connect hook not called")
	}
}

func TestOversizedMessageTerminatesSession(t *testing.T) {
	t.Parallel()

	_, url := startServer(t, &ServerConfig{MaxMessageSize: 16})
	c := dial(t, url, nil)

	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{1}, 64)))

	err := c.expectError(t, 2*time.Second)
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
}

func TestWriteTimeoutIsWriteFailure(t *testing.T) {
	t.Parallel()

	reasons := make(chan session.Reason, 1)
	_, url := startServer(t, &ServerConfig{
		WriteWait: 20 * time.Millisecond,
		OnClientDisconnect: func(s wsecho.Session, voluntary bool) {
			assert.False(t, voluntary)
			reasons <- s.(*session.Session).Reason()
		},
	})

	// No reader: echoes pile up until the server's write deadline expires.
	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		payload := bytes.Repeat([]byte{1}, 1<<20)
		for i := 0; i < 64; i++ {
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		}
	}()

	select {
	case reason := <-reasons:
		assert.Equal(t, session.ReasonWriteFailed, reason)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end on write timeout")
	}
}

func TestNonGetIsRejected(t *testing.T) {
	t.Parallel()

	server, _ := startServer(t, &ServerConfig{})

	resp, err := http.Post("http://"+server.Addr()+"/ws", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestUpgradeRateLimit(t *testing.T) {
	t.Parallel()

	_, url := startServer(t, &ServerConfig{
		RateLimitConfig: &RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, Enabled: true},
	})
	dial(t, url, nil)

	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	_, resp, err := dialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestStartTwice(t *testing.T) {
	t.Parallel()

	server, _ := startServer(t, &ServerConfig{})

	err := server.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, wsecho.ErrServerAlreadyRunning, err.Error())
}

func TestStopWhenNotRunning(t *testing.T) {
	t.Parallel()

	server := New(&ServerConfig{Logger: quietLogger()})
	assert.NoError(t, server.Stop(context.Background()))
}

func TestStartWithCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := New(&ServerConfig{Addr: "127.0.0.1:0", Logger: quietLogger()})
	assert.ErrorIs(t, server.Start(ctx), context.Canceled)
}

func TestRequestsAreLogged(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	server, url := startServer(t, &ServerConfig{Logger: logger})

	dial(t, url, nil)

	resp, err := http.Post("http://"+server.Addr()+"/ws", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()

	statuses := func() []int {
		var out []int
		for _, e := range hook.AllEntries() {
			if e.Message != "request handled" {
				continue
			}
			assert.Equal(t, logrus.InfoLevel, e.Level)
			assert.NotEmpty(t, e.Data["remote_addr"])
			assert.Equal(t, "/ws", e.Data["path"])
			out = append(out, e.Data["status"].(int))
		}
		return out
	}

	require.Eventually(t, func() bool { return len(statuses()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []int{http.StatusSwitchingProtocols, http.StatusMethodNotAllowed}, statuses())
}
