package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned for a type tag outside the closed set.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned for bodies that cannot be parsed.
	ErrMalformed = errors.New("malformed message")
)

type wireEnvelope struct {
	Sender         string          `json:"sender"`
	Recipient      string          `json:"recipient"`
	Performative   Performative    `json:"performative"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Ontology       string          `json:"ontology"`
	Language       string          `json:"language"`
	Type           Kind            `json:"type"`
	Body           json.RawMessage `json:"body"`
}

// Encode serializes an envelope to its JSON wire form.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Payload.Kind(), err)
	}
	return json.Marshal(wireEnvelope{
		Sender:         e.Sender,
		Recipient:      e.Recipient,
		Performative:   e.Performative,
		ConversationID: e.ConversationID,
		Ontology:       Ontology,
		Language:       Language,
		Type:           e.Payload.Kind(),
		Body:           body,
	})
}

// Decode parses the wire form into an envelope carrying a value variant.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	dec, ok := decoders[w.Type]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
	body := w.Body
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		body = json.RawMessage("{}")
	}
	p, err := dec(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s body: %v", ErrMalformed, w.Type, err)
	}
	e := Envelope{
		Sender:         w.Sender,
		Recipient:      w.Recipient,
		Performative:   w.Performative,
		ConversationID: w.ConversationID,
		Payload:        p,
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
