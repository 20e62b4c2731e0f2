// Package v1 defines the POS Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and terminal clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Control types (wire-stable). Every other envelope type is an event tag (see events.go).
const (
	// TypeAck answers a request envelope; ReplyTo carries the request id (server -> client).
	TypeAck = "ack"
	// TypeError is a protocol-level error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeAck, TypeError:
		if e.Type == TypeAck && e.ReplyTo == "" {
			return errors.New("missing field: reply_to")
		}
		return nil
	}

	if !Known(e.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownTag, e.Type)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing field: id")
	}
	return nil
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by TypeError envelopes.
const (
	CodeBadJSON      = "bad_json"
	CodeBadEnvelope  = "bad_envelope"
	CodeBadPayload   = "bad_payload"
	CodeRateLimited  = "rate_limited"
	CodeUnsupported  = "unsupported"
	CodeInternal     = "internal"
	CodeInvalidInput = "invalid_input"
)
