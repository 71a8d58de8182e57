package domain

import (
	"encoding/json"
	"fmt"
)

// Envelope is the serialized form of a message exchanged with adapters.
// Type discriminates plain messages from alerts.
type Envelope struct {
	Type    MessageKind `json:"type"`
	Message *Message    `json:"message"`
}

// Encode serializes a message into an envelope.
func Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode: %w: nil message", ErrInvalidInput)
	}
	kind := msg.Kind
	if kind == "" {
		kind = KindMessage
	}
	return json.Marshal(Envelope{Type: kind, Message: msg})
}

// Decode parses an envelope and returns the message it carries.
func Decode(data []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w: %v", ErrInvalidInput, err)
	}
	if env.Message == nil {
		return nil, fmt.Errorf("decode envelope: %w: missing message", ErrInvalidInput)
	}

	switch env.Type {
	case KindMessage, KindAlert:
	default:
		return nil, fmt.Errorf("decode envelope: %w: unknown type %q", ErrInvalidInput, env.Type)
	}

	if env.Message.Kind == "" {
		env.Message.Kind = env.Type
	}
	if env.Message.Kind != env.Type {
		return nil, fmt.Errorf("decode envelope: %w: type %q does not match message kind %q",
			ErrInvalidInput, env.Type, env.Message.Kind)
	}

	return env.Message, nil
}
