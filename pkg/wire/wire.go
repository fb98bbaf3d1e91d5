// Package wire defines the over-the-wire JSON encoding for value.Value, used
// by the Remote Driver's peer protocol and by the API layer's request and
// response bodies.
package wire

import (
	"encoding/json"
	"fmt"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/value"
)

// Value is the wire representation of a value.Value: a tagged union with
// exactly one of its fields set, matching which Kind it carries.
type Value struct {
	String  *string `json:"string,omitempty"`
	Boolean *bool   `json:"boolean,omitempty"`
	Number  *float64 `json:"number,omitempty"`
	Buffer  []byte  `json:"buffer,omitempty"` // base64 via encoding/json
}

// EncodeValue converts a runtime Value into its wire form.
func EncodeValue(v value.Value) Value {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		return Value{String: &s}
	case value.KindBoolean:
		b, _ := v.AsBoolean()
		return Value{Boolean: &b}
	case value.KindNumber:
		n, _ := v.AsNumber()
		return Value{Number: &n}
	case value.KindBuffer:
		buf, _ := v.AsBuffer()
		return Value{Buffer: buf}
	default:
		return Value{}
	}
}

// DecodeValue converts a wire Value back into a runtime Value, rejecting
// payloads that set zero or more than one tag.
func DecodeValue(w Value) (value.Value, error) {
	set := 0
	if w.String != nil {
		set++
	}
	if w.Boolean != nil {
		set++
	}
	if w.Number != nil {
		set++
	}
	if w.Buffer != nil {
		set++
	}

	switch {
	case set == 0:
		return value.Value{}, modrunerrors.BadRequest("wire value has no kind set", nil)
	case set > 1:
		return value.Value{}, modrunerrors.BadRequest("wire value sets more than one kind", nil)
	}

	switch {
	case w.String != nil:
		return value.String(*w.String), nil
	case w.Boolean != nil:
		return value.Boolean(*w.Boolean), nil
	case w.Number != nil:
		return value.Number(*w.Number), nil
	default:
		return value.Buffer(w.Buffer), nil
	}
}

// Label is the wire representation of a value.Label.
type Label struct {
	Confidentiality string `json:"confidentiality"`
	Integrity       string `json:"integrity"`
}

// EncodeLabel converts a runtime Label into its wire form.
func EncodeLabel(l value.Label) Label {
	return Label{Confidentiality: l.Confidentiality.String(), Integrity: l.Integrity.String()}
}

// DecodeLabel converts a wire Label back into a runtime Label.
func DecodeLabel(w Label) (value.Label, error) {
	c, err := decodeConfidentiality(w.Confidentiality)
	if err != nil {
		return value.Label{}, err
	}
	i, err := decodeIntegrity(w.Integrity)
	if err != nil {
		return value.Label{}, err
	}
	return value.Label{Confidentiality: c, Integrity: i}, nil
}

func decodeConfidentiality(s string) (value.Confidentiality, error) {
	for _, c := range value.ConfidentialityLevels() {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, modrunerrors.BadRequest(fmt.Sprintf("unknown confidentiality %q", s), nil)
}

func decodeIntegrity(s string) (value.Integrity, error) {
	for _, i := range value.IntegrityLevels() {
		if i.String() == s {
			return i, nil
		}
	}
	return 0, modrunerrors.BadRequest(fmt.Sprintf("unknown integrity %q", s), nil)
}

// Envelope is the framing used by the Remote Driver's websocket connection:
// every message, in either direction, is one Envelope.
type Envelope struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope builds an Envelope carrying the JSON encoding of payload.
func MarshalEnvelope(op string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, modrunerrors.Internal("failed to marshal envelope payload", err)
	}
	return Envelope{Op: op, Payload: raw}, nil
}
