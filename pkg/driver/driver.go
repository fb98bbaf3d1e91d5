// Package driver defines the closed-set Driver contract every module
// target implements (Function, FunctionVM, Remote), and the lifecycle
// state machine an Instance moves through.
package driver

import (
	"context"

	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/value"
)

// Factory is the prepared, cacheable result of a driver's Prepare step: a
// compiled module ready to be instantiated repeatedly. Its concrete type is
// driver-specific (a *sandbox.Module for Function, an embedded VM handle
// for FunctionVM, a peer connection descriptor for Remote); callers outside
// a driver treat it opaquely.
type Factory interface {
	// ModuleID returns the Module ID this factory was prepared for, used as
	// the Factory Cache key.
	ModuleID() module.ID
}

// Instance is a single instantiation's live handle, returned by a driver's
// Instantiate step and consumed by its Run step.
type Instance interface {
	// InstanceID returns this instantiation's unique identifier.
	InstanceID() module.InstanceID

	// Rebind swaps in a freshly bound, policy-validated IO Surface ahead
	// of the next Run call, implementing the Idle -> Running transition:
	// each Run a caller makes against a long-lived instance carries its
	// own input, validated against the current policy and execution
	// context before this is ever called.
	Rebind(surface *ioshape.Surface)
}

// Driver is the contract every module target implements: a closed,
// three-step lifecycle of prepare, instantiate, and run. This mirrors a
// plugin dispatched by target rather than an open-ended capability
// interface — the runtime's affinity table selects one of exactly three
// implementations, never a dynamically registered fourth.
type Driver interface {
	// Target identifies which of the closed set of targets this Driver
	// implements.
	Target() module.Target

	// Prepare builds or loads whatever the driver needs to instantiate def
	// repeatedly, returning a cacheable Factory. Prepare is idempotent: a
	// second call for the same Module ID must be served from the driver's
	// own cache rather than re-invoking the Builder.
	Prepare(ctx context.Context, def module.Definition) (Factory, error)

	// Instantiate creates a fresh, exclusively-owned Instance from factory,
	// bound to the given IO Surface. Instantiate must only be called after
	// the surface's inputs have passed policy validation.
	Instantiate(ctx context.Context, factory Factory, surface *ioshape.Surface) (Instance, error)

	// Run executes inst to completion, returning the output values it
	// produced, unlabelled: the caller attaches labels. Run may be called repeatedly on the same
	// inst (the Running -> Idle -> Running loop); a guest trap fails this
	// call but does not by itself drop the instance. Calling Run on an
	// instance already Dropped fails with UnknownInstance.
	Run(ctx context.Context, inst Instance) (map[string]value.Value, error)

	// Drop releases inst and any sandbox resources it holds. Drop is
	// idempotent: dropping an already-dropped instance is a no-op. After
	// Drop, Run must fail with UnknownInstance.
	Drop(ctx context.Context, inst Instance) error
}

// State is one point in the Module Lifecycle State Machine: Unprepared ->
// Preparing -> Prepared -> Instantiating -> Running -> Idle (looping back to
// Running) -> Dropped, with PreparationFailed/InstantiationFailed terminal
// failure states reachable from Preparing/Instantiating respectively.
type State string

const (
	StateUnprepared          State = "unprepared"
	StatePreparing           State = "preparing"
	StatePrepared            State = "prepared"
	StatePreparationFailed   State = "preparation_failed"
	StateInstantiating       State = "instantiating"
	StateInstantiationFailed State = "instantiation_failed"
	StateRunning             State = "running"
	StateIdle                State = "idle"
	StateDropped             State = "dropped"
)

// validTransitions enumerates the state machine's edges. A transition not
// present here is rejected by CanTransition.
var validTransitions = map[State][]State{
	StateUnprepared:    {StatePreparing},
	StatePreparing:     {StatePrepared, StatePreparationFailed},
	StatePrepared:      {StateInstantiating},
	StateInstantiating: {StateRunning, StateInstantiationFailed},
	StateRunning:       {StateIdle, StateDropped},
	StateIdle:          {StateRunning, StateDropped},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge
// in the lifecycle state machine.
func CanTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions: a failure state
// or Dropped.
func Terminal(s State) bool {
	switch s {
	case StatePreparationFailed, StateInstantiationFailed, StateDropped:
		return true
	default:
		return len(validTransitions[s]) == 0
	}
}
