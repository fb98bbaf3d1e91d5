package policy

import (
	"github.com/architect-io/modrun/pkg/value"
)

// IO is the minimal contract a validated payload must satisfy: the set of
// input labels a Policy is checked against.
type IO interface {
	InputLabels() map[string]value.Label
}

// Validated wraps an IO value that has already passed Policy validation
// against an execution Context. It is only constructible via Validate,
// which is the runtime's single policy-enforcement checkpoint: no caller
// can synthesize a Validated value by any other means, so any code holding
// one is guaranteed the wrapped IO was checked.
type Validated[T IO] struct {
	policy Policy
	io     T
}

// Validate checks io's input labels against policy and actual, returning a
// Validated wrapper on success. This is the only way to produce a
// Validated[T]; a driver's prepare/instantiate/run path must go through it
// before a guest is ever instantiated.
func Validate[T IO](p Policy, actual Context, io T) (Validated[T], error) {
	if err := p.Validate(io.InputLabels(), actual); err != nil {
		return Validated[T]{}, err
	}
	return Validated[T]{policy: p, io: io}, nil
}

// IntoInner returns the wrapped IO value.
func (v Validated[T]) IntoInner() T {
	return v.io
}

// Policy returns the Policy the wrapped value was validated against.
func (v Validated[T]) Policy() Policy {
	return v.policy
}
