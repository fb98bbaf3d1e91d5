// Package value defines the runtime's value model: the sum type guest
// modules read and write, and the confidentiality/integrity label lattice
// used to track how those values may flow.
package value

import "fmt"

// Kind identifies the shape of a Value without carrying its payload.
type Kind string

const (
	KindString  Kind = "string"
	KindBoolean Kind = "boolean"
	KindNumber  Kind = "number"
	KindBuffer  Kind = "buffer"
)

// Value is the tagged union every keyed-state slot holds. Exactly one of
// the accessor methods other than Kind is meaningful for a given Value;
// callers should check Kind() (or use the Is helpers) before reading.
type Value struct {
	kind    Kind
	str     string
	boolean bool
	number  float64
	buffer  []byte
}

// String constructs a string-kind Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Boolean constructs a boolean-kind Value.
func Boolean(b bool) Value { return Value{kind: KindBoolean, boolean: b} }

// Number constructs a number-kind Value. NaN and Inf are accepted; callers
// that need finite-only semantics validate at the boundary.
func Number(f float64) Value { return Value{kind: KindNumber, number: f} }

// Buffer constructs a buffer-kind Value. The slice is retained, not copied;
// callers must not mutate it after handing it to a Value.
func Buffer(b []byte) Value { return Value{kind: KindBuffer, buffer: b} }

// Kind reports the Value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsOfKind reports whether v carries the given kind.
func (v Value) IsOfKind(k Kind) bool { return v.kind == k }

// AsString returns the string payload and whether v is string-kind.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBoolean returns the boolean payload and whether v is boolean-kind.
func (v Value) AsBoolean() (bool, bool) { return v.boolean, v.kind == KindBoolean }

// AsNumber returns the number payload and whether v is number-kind.
func (v Value) AsNumber() (float64, bool) { return v.number, v.kind == KindNumber }

// AsBuffer returns the buffer payload and whether v is buffer-kind.
func (v Value) AsBuffer() ([]byte, bool) { return v.buffer, v.kind == KindBuffer }

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("string(%q)", v.str)
	case KindBoolean:
		return fmt.Sprintf("boolean(%t)", v.boolean)
	case KindNumber:
		return fmt.Sprintf("number(%v)", v.number)
	case KindBuffer:
		return fmt.Sprintf("buffer(%d bytes)", len(v.buffer))
	default:
		return "value(invalid)"
	}
}

// ValidKind reports whether k is one of the four recognized kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindString, KindBoolean, KindNumber, KindBuffer:
		return true
	default:
		return false
	}
}
