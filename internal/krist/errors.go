package krist

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client errors. Use errors.Is to test for them; the concrete values
// returned are usually wrapped with more context.
var (
	// ErrHandshake is returned when the /ws/start call fails or its response
	// is not a positive acknowledgment carrying a channel URL.
	ErrHandshake = errors.New("krist handshake failed")

	// ErrTimeout is returned when the server does not greet with "hello"
	// within the handshake bound.
	ErrTimeout = errors.New("krist did not respond to hello")

	// ErrCallRejected is matched by every *CallError.
	ErrCallRejected = errors.New("krist call rejected")

	// ErrCallTimeout is returned when a call's response does not arrive
	// within the configured call timeout.
	ErrCallTimeout = errors.New("krist call timed out")

	// ErrDisconnected is matched by every *DisconnectError.
	ErrDisconnected = errors.New("krist connection closed")

	// ErrClosed is returned by operations on a client closed with Close.
	ErrClosed = errors.New("client closed")

	// ErrNotConnected is returned by Call before Connect has succeeded.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrProtocolViolation marks inbound frames that cannot be decoded.
	ErrProtocolViolation = errors.New("protocol violation")
)

// CallError is a negative acknowledgment to a call.
type CallError struct {
	Type    string
	ID      int64
	Code    string // server "error" field, e.g. insufficient_funds
	Message string // server "message" field, may be empty
	Raw     json.RawMessage
}

func (e *CallError) Error() string {
	msg := e.Code
	if e.Message != "" {
		if msg != "" {
			msg += ": "
		}
		msg += e.Message
	}
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("krist %s #%d rejected: %s", e.Type, e.ID, msg)
}

// Is reports whether target is ErrCallRejected.
func (e *CallError) Is(target error) bool {
	return target == ErrCallRejected
}

// DisconnectError reports that the persistent channel went away after
// the session was established.
type DisconnectError struct {
	Code int    // websocket close code, 0 when the read failed without a close frame
	Text string // close reason sent by the server
	Err  error
}

func (e *DisconnectError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("krist connection closed (%d %s)", e.Code, e.Text)
	}
	return fmt.Sprintf("krist connection closed: %v", e.Err)
}

// Is reports whether target is ErrDisconnected.
func (e *DisconnectError) Is(target error) bool {
	return target == ErrDisconnected
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}
