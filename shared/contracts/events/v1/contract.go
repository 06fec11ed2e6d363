// Package v1 is the session-events wire contract shared by the server's
// WebSocket gateway and the agent's event stream.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version     = 1
	Subprotocol = "panel.events.v1"

	TypeHello          = "hello"
	TypeHelloAck       = "hello.ack"
	TypeSessionRevoked = "session.revoked"
	TypeError          = "error"
)

var AllowedTypes = map[string]struct{}{
	TypeHello:          {},
	TypeHelloAck:       {},
	TypeSessionRevoked: {},
	TypeError:          {},
}

type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// New builds an envelope with payload encoded as JSON.
func New(typ, id string, ts time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts, Payload: b}, nil
}

type HelloPayload struct {
	Client string `json:"client,omitempty"`
}

type HelloAckPayload struct {
	ConnID    string `json:"conn_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// SessionRevokedPayload announces a server-side revocation. An empty
// SessionID means every session of the user.
type SessionRevokedPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
