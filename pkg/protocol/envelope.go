package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload indicates the raw payload is not valid JSON.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMissingCommand indicates the envelope has no command name.
	ErrMissingCommand = errors.New("envelope has no command")
)

// Envelope is the unit exchanged over a client connection. The command
// name selects a handler; token carries the client credential inbound
// and is empty on every outbound envelope except the login reply;
// sessionValid is authoritative on outbound envelopes only. ID and Data
// form the open handler-defined payload.
type Envelope struct {
	Command      string         `json:"command"`
	Token        string         `json:"token,omitempty"`
	SessionValid bool           `json:"sessionValid"`
	ID           string         `json:"id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Decode parses a raw inbound payload into an Envelope.
func Decode(raw []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Command == "" {
		return nil, ErrMissingCommand
	}
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// String returns a loggable description without the token value.
func (e *Envelope) String() string {
	token := "empty"
	if e.Token != "" {
		token = "set"
	}
	return fmt.Sprintf("Envelope{command=%s token=%s sessionValid=%t id=%s}", e.Command, token, e.SessionValid, e.ID)
}
