package client

import (
	"errors"
	"fmt"
)

var (
	// ErrOffline is returned by Request when no connection is up. Emit queues instead.
	ErrOffline = errors.New("realtime: offline")

	// ErrAckTimeout is the synthetic failure of a request whose acknowledgment did not arrive in time.
	ErrAckTimeout = errors.New("realtime: acknowledgment timeout")

	// ErrConnectionLost fails requests still pending when their connection dropped.
	ErrConnectionLost = errors.New("realtime: connection lost")

	// ErrAuthRejected is reported when the server refused the handshake credentials.
	// No automatic retry follows; the user has to sign in again.
	ErrAuthRejected = errors.New("realtime: authentication rejected")

	// ErrRetryBudgetExhausted is reported when reconnection gave up after Backoff.MaxAttempts.
	ErrRetryBudgetExhausted = errors.New("realtime: reconnect attempts exhausted")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("realtime: manager closed")

	// ErrSessionGone is returned by the long-poll transport when the server no longer knows the session.
	ErrSessionGone = errors.New("realtime: poll session gone")
)

// AckError is a semantic failure carried in an acknowledgment payload (success=false).
type AckError struct {
	Tag     string
	Message string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("realtime: %s rejected: %s", e.Tag, e.Message)
}

// ServerError is a protocol-level error envelope answering a request.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("realtime: server error %s: %s", e.Code, e.Message)
}

// HandshakeError reports a non-2xx handshake response.
type HandshakeError struct {
	Transport  string
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("realtime: %s handshake failed (%d): %v", e.Transport, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("realtime: %s handshake failed (%d)", e.Transport, e.StatusCode)
}

// Unwrap exposes ErrAuthRejected for 401/403 responses.
func (e *HandshakeError) Unwrap() []error {
	var out []error
	if e.StatusCode == 401 || e.StatusCode == 403 {
		out = append(out, ErrAuthRejected)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}
