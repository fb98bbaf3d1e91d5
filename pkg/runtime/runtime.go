// Package runtime implements the two-tier module lifecycle engine: it
// selects a Driver per definition's target and affinity, drives prepare ->
// instantiate -> run -> drop through that Driver, and enforces the policy
// gate (via policy.Validate) before a guest is ever instantiated or handed
// a fresh invocation's input.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/architect-io/modrun/pkg/driver"
	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/policy"
	"github.com/architect-io/modrun/pkg/value"
	"go.uber.org/zap"
)

// ReachableDriver is the Remote Driver's contract as seen by the runtime:
// a Driver that can additionally report whether its peer is currently
// reachable, used by PrefersRemote to decide whether to fall back to the
// local driver.
// Depending on this narrow interface rather than *remote.Driver directly
// keeps this package free to run with a stubbed peer in tests.
type ReachableDriver interface {
	driver.Driver
	Reachable(ctx context.Context) bool
}

// Config bundles the driver set and policy a Runtime is built from, in the
// shape of toolchain.RunOptions: one struct naming every required and
// optional input rather than a long positional parameter list.
type Config struct {
	// FunctionDriver and FunctionVMDriver back the Function and Function-VM
	// targets respectively. Either may be nil: a Definition naming a target
	// whose driver is nil fails at dispatch time unless its affinity
	// (RemoteOnly, PrefersLocal, or PrefersRemote with a reachable peer)
	// sends it to the Remote Driver.
	FunctionDriver   driver.Driver
	FunctionVMDriver driver.Driver

	// RemoteDriver backs the Remote target and any affinity that can fall
	// back to or prefer a peer runtime. Nil when no peer runtime is
	// configured; a Definition that requires one then fails at dispatch
	// time rather than at construction time.
	RemoteDriver ReachableDriver

	// Policy and Context are the Policy Engine's two halves: the
	// label-to-environment requirement mapping, and the environment this
	// Runtime is actually running in. Every invocation's inputs are checked
	// against both before a guest ever sees them.
	Policy  policy.Policy
	Context policy.Context

	// Log receives warn-level diagnostics (affinity dispatch fallbacks, and
	// dropped output writes through each invocation's IO Surface). Defaults
	// to a no-op logger if nil.
	Log *zap.Logger
}

// liveInstance is the runtime's bookkeeping record for one instantiated
// module: which driver and lifecycle Instance own it, the Definition it
// was instantiated from (needed to rebuild an IO Surface on each
// subsequent Run), and its current lifecycle state.
type liveInstance struct {
	mu     sync.Mutex
	def    module.Definition
	driver driver.Driver
	inst   driver.Instance
	state  driver.State
}

// Runtime is the module lifecycle engine: one process-wide instance
// registry, shared across every definition's Function/Function-VM/Remote
// dispatch.
type Runtime struct {
	function   driver.Driver
	functionVM driver.Driver
	remote     ReachableDriver

	pol policy.Policy
	ctx policy.Context
	log *zap.Logger

	mu        sync.Mutex
	instances map[module.InstanceID]*liveInstance
}

// New constructs a Runtime from cfg.
func New(cfg Config) *Runtime {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		function:   cfg.FunctionDriver,
		functionVM: cfg.FunctionVMDriver,
		remote:     cfg.RemoteDriver,
		pol:        cfg.Policy,
		ctx:        cfg.Context,
		log:        log,
		instances:  make(map[module.InstanceID]*liveInstance),
	}
}

// selectDriver implements the affinity -> driver-selection table: target
// Remote always goes to the Remote Driver; targets Function/FunctionVM
// consult their own local driver and, depending on affinity, the Remote
// Driver as a fallback or preference.
func (r *Runtime) selectDriver(ctx context.Context, def module.Definition) (driver.Driver, error) {
	if def.Target == module.TargetRemote {
		if r.remote == nil {
			return nil, modrunerrors.BadRequest("remote target requires a configured remote driver", nil)
		}
		return r.remote, nil
	}

	var local driver.Driver
	switch def.Target {
	case module.TargetFunction:
		local = r.function
	case module.TargetFunctionVM:
		local = r.functionVM
	default:
		return nil, modrunerrors.InvalidModule(fmt.Sprintf("unknown target %q", def.Target), nil)
	}

	switch def.Affinity {
	case module.AffinityLocalOnly:
		if local == nil {
			return nil, modrunerrors.BadRequest(fmt.Sprintf("local-only affinity requires a %s driver", def.Target), nil)
		}
		return local, nil

	case module.AffinityRemoteOnly:
		if r.remote == nil {
			return nil, modrunerrors.BadRequest("remote-only affinity requires a configured remote driver", nil)
		}
		return r.remote, nil

	case module.AffinityPrefersLocal:
		if local != nil {
			return local, nil
		}
		if r.remote == nil {
			return nil, modrunerrors.BadRequest(fmt.Sprintf("prefers-local affinity found no %s driver and no remote fallback", def.Target), nil)
		}
		r.log.Warn("prefers-local affinity falling back to remote driver", zap.String("target", string(def.Target)))
		return r.remote, nil

	case module.AffinityPrefersRemote:
		if r.remote != nil && r.remote.Reachable(ctx) {
			return r.remote, nil
		}
		if local == nil {
			return nil, modrunerrors.BadRequest(fmt.Sprintf("prefers-remote affinity found no reachable remote and no %s driver", def.Target), nil)
		}
		r.log.Warn("prefers-remote affinity falling back to local driver", zap.String("target", string(def.Target)))
		return local, nil

	default:
		return nil, modrunerrors.InvalidModule(fmt.Sprintf("unknown affinity %q", def.Affinity), nil)
	}
}

// bindValidated binds an IO Surface for one invocation against def's
// declared shapes and labels it inputs, then runs it through the Policy
// Engine's single enforcement checkpoint. Only a Surface extracted from the
// Validated token this returns may reach a driver's Instantiate or a live
// Instance's Rebind.
func (r *Runtime) bindValidated(def module.Definition, input map[string]value.Value, inputLabels map[string]value.Label) (policy.Validated[*ioshape.Surface], error) {
	surface, err := ioshape.Bind(def.InputShape, def.OutputShape, input, r.log)
	if err != nil {
		return policy.Validated[*ioshape.Surface]{}, err
	}
	surface.SetInputLabels(inputLabels)

	return policy.Validate[*ioshape.Surface](r.pol, r.ctx, surface)
}

// InstantiateModule prepares def (serving from the selected driver's own
// Factory Cache when possible) and creates a fresh Instance bound to input,
// labelled by inputLabels. This is the Prepared -> Instantiating -> Running
// span of the lifecycle state machine; a failure here lands the instance
// in one of the terminal PreparationFailed/InstantiationFailed states,
// reported as a PreparationFailed/InstantiationFailed error rather than a
// registry entry.
func (r *Runtime) InstantiateModule(ctx context.Context, def module.Definition, input map[string]value.Value, inputLabels map[string]value.Label) (module.InstanceID, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}

	d, err := r.selectDriver(ctx, def)
	if err != nil {
		return "", err
	}

	factory, err := d.Prepare(ctx, def)
	if err != nil {
		return "", err
	}

	validated, err := r.bindValidated(def, input, inputLabels)
	if err != nil {
		return "", err
	}

	inst, err := d.Instantiate(ctx, factory, validated.IntoInner())
	if err != nil {
		return "", err
	}

	li := &liveInstance{def: def, driver: d, inst: inst, state: driver.StateRunning}

	r.mu.Lock()
	r.instances[inst.InstanceID()] = li
	r.mu.Unlock()

	return inst.InstanceID(), nil
}

// RunModule rebinds instanceID's live Instance to a freshly validated
// Surface built from input/inputLabels, then drives one Running ->
// Idle cycle. RunModule may be called repeatedly against the same instance
// ID (the Idle -> Running loop) until the instance is dropped. A guest trap
// fails this call but, per the lifecycle state machine, leaves the instance
// in Idle rather than terminating it — a subsequent RunModule call is still
// valid.
func (r *Runtime) RunModule(ctx context.Context, instanceID module.InstanceID, input map[string]value.Value, inputLabels map[string]value.Label) (map[string]value.LabelledDatum, error) {
	li, err := r.lookup(instanceID)
	if err != nil {
		return nil, err
	}

	li.mu.Lock()
	defer li.mu.Unlock()

	if driver.Terminal(li.state) {
		return nil, modrunerrors.UnknownInstance(instanceID.String())
	}

	validated, err := r.bindValidated(li.def, input, inputLabels)
	if err != nil {
		return nil, err
	}
	surface := validated.IntoInner()

	li.inst.Rebind(surface)
	li.state = driver.StateRunning

	outputs, err := li.driver.Run(ctx, li.inst)
	if err != nil {
		li.state = driver.StateIdle
		return nil, err
	}
	li.state = driver.StateIdle

	// Labelled by the join of every declared input (a safe
	// over-approximation), computed from surface directly rather than
	// trusting outputs to have been written back into it: the Remote
	// Driver's Run decodes its peer's response into a fresh map without
	// ever calling surface.Write, so relying on surface.Outputs() here
	// would silently under-report for that driver.
	label := surface.DeclaredInputLabel()
	labelled := make(map[string]value.LabelledDatum, len(outputs))
	for k, v := range outputs {
		labelled[k] = value.Datum(v, label)
	}
	return labelled, nil
}

// DropInstance releases instanceID's live Instance. Dropping an unknown or
// already-dropped instance is a no-op, matching the lifecycle state
// machine's idempotent Drop transition.
func (r *Runtime) DropInstance(ctx context.Context, instanceID module.InstanceID) error {
	r.mu.Lock()
	li, ok := r.instances[instanceID]
	if ok {
		delete(r.instances, instanceID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	li.mu.Lock()
	defer li.mu.Unlock()
	if li.state == driver.StateDropped {
		return nil
	}
	li.state = driver.StateDropped
	return li.driver.Drop(ctx, li.inst)
}

func (r *Runtime) lookup(instanceID module.InstanceID) (*liveInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	li, ok := r.instances[instanceID]
	if !ok {
		return nil, modrunerrors.UnknownInstance(instanceID.String())
	}
	return li, nil
}
