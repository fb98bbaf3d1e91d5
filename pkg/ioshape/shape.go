// Package ioshape defines the typed key spaces a module declares for its
// inputs and outputs, and the per-invocation surface bound against them.
package ioshape

import (
	"github.com/architect-io/modrun/pkg/value"
)

// Shape maps a set of keys to the value.Kind each must carry. Input and
// output shapes are both Shapes; a Definition carries one of each.
type Shape map[string]value.Kind

// Validate reports an error if any key maps to an unrecognized kind.
func (s Shape) Validate() error {
	for k, kind := range s {
		if !value.ValidKind(kind) {
			return invalidKindErr(k, kind)
		}
	}
	return nil
}

// Clone returns an independent copy of s.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
