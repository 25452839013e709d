package protocol

import "fmt"

// Kind identifies the type of a frame exchanged over an upgraded connection.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindBinary
	KindPing
	KindPong
	KindClose
)

// TextEchoPrefix is prepended to every echoed text payload.
const TextEchoPrefix = "echo: "

// Close status codes used by the server.
const (
	CloseNormalClosure    = 1000
	CloseGoingAway        = 1001
	CloseNoStatusReceived = 1005
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindClose:
		return "close"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is one discrete message unit. Code and Reason are only meaningful
// for close frames; Payload is unused for them.
type Frame struct {
	Kind    Kind
	Payload []byte
	Code    int
	Reason  string
}

// Text builds a text frame.
func Text(s string) Frame {
	return Frame{Kind: KindText, Payload: []byte(s)}
}

// Binary builds a binary frame.
func Binary(b []byte) Frame {
	return Frame{Kind: KindBinary, Payload: b}
}

// Ping builds a ping frame carrying b as application data.
func Ping(b []byte) Frame {
	return Frame{Kind: KindPing, Payload: b}
}

// Pong builds a pong frame carrying b as application data.
func Pong(b []byte) Frame {
	return Frame{Kind: KindPong, Payload: b}
}

// Close builds a close frame. Use CloseNoStatusReceived for a close without
// a status code.
func Close(code int, reason string) Frame {
	return Frame{Kind: KindClose, Code: code, Reason: reason}
}

// EchoText returns the text frame sent in reply to an inbound text payload.
func EchoText(payload []byte) Frame {
	out := make([]byte, 0, len(TextEchoPrefix)+len(payload))
	out = append(out, TextEchoPrefix...)
	out = append(out, payload...)
	return Frame{Kind: KindText, Payload: out}
}

func (f Frame) String() string {
	if f.Kind == KindClose {
		return fmt.Sprintf("close(%d, %q)", f.Code, f.Reason)
	}
	return fmt.Sprintf("%s(%d bytes)", f.Kind, len(f.Payload))
}
