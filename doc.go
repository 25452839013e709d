// Package wsecho provides a WebSocket echo server with server-driven heartbeats.
//
// Every text message a client sends comes back prefixed with "echo: ", and every
// binary message comes back unchanged. The server pings each client on a fixed
// interval and drops clients that stop sending pings or pongs.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/wsecho/ws"
//	)
//
//	server := ws.New(ws.NewConfig("127.0.0.1:8081", ws.DefaultHeartbeat(), ws.AllOrigins(), nil, nil))
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(context.Background())
//
// # Frames
//
// Inbound frames are handled one at a time, in arrival order:
//
//	Ping(p)   -> refresh heartbeat, reply Pong(p)
//	Pong(_)   -> refresh heartbeat
//	Text(t)   -> reply Text("echo: " + t)
//	Binary(b) -> reply Binary(b)
//	Close(r)  -> reply Close(r), then terminate
//
// Any read error terminates the session without a reply.
//
// # Heartbeat
//
// Every HeartbeatInterval (default 5s) the session compares the time since the
// last received ping or pong against ClientTimeout (default 10s). If it is
// strictly greater the session is terminated, otherwise an empty ping is sent.
//
// Text and binary messages do not count as heartbeats. A client that streams
// data but never answers pings is dropped.
//
// # Important
//
//   - Each session runs in its own goroutine that owns all of its state
//   - Sessions share nothing; one failing never affects another
//   - Configure CheckOrigin in production (never use ws.AllOrigins() in production)
package wsecho
