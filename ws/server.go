package ws

import (
	"net/http"

	"github.com/luciancaetano/wsecho"
	"github.com/luciancaetano/wsecho/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type HeartbeatConfig = websocket.HeartbeatConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type ServerConfig = *websocket.ServerConfig

// New creates an echo server from cfg. Unset fields take their defaults:
// address 127.0.0.1:8081, path /ws, 5s heartbeat interval, 10s client
// timeout, 10MB read limit and the default upgrade rate limit.
//
// Example:
//
//	server := ws.New(ws.NewConfig("127.0.0.1:8081", ws.DefaultHeartbeat(), ws.AllOrigins(), func(s wsecho.Session) {
//	    log.Printf("Session opened: %s", s.ID())
//	}, nil))
func New(cfg ServerConfig) wsecho.Server {
	return websocket.New(cfg)
}

func NewConfig(addr string, heartbeat HeartbeatConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		Heartbeat:          heartbeat,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultHeartbeat returns a 5s ping interval with a 10s client timeout.
func DefaultHeartbeat() HeartbeatConfig {
	return websocket.DefaultHeartbeat()
}

// DefaultRateLimitConfig returns the default upgrade rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
