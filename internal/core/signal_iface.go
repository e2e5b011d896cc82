package core

import (
	"encoding/json"
	"errors"
)

// Frame is one encoded event as written to the wire.
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Envelope is the shape of every frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps payload into an envelope of the given type.
func Encode(eventType string, payload any) (Frame, error) {
	env := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: eventType, Payload: payload}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
