// Package function implements the Function Driver: the compiled-mode
// target that runs a module as a precompiled WebAssembly component in a
// sandbox.Module, with a 32-entry Factory Cache keyed by Module ID.
package function

import (
	"context"
	"sync"

	"github.com/architect-io/modrun/pkg/abi"
	"github.com/architect-io/modrun/pkg/artifact"
	"github.com/architect-io/modrun/pkg/driver"
	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/factory"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/sandbox"
	"github.com/architect-io/modrun/pkg/value"
)

// Builder compiles inline source code into a content-addressed Artifact.
// The Function Driver depends on this narrow interface rather than the
// Builder Core package directly, so it can be unit-tested with a stub and
// wired to the real builder at the runtime's composition root.
type Builder interface {
	Build(ctx context.Context, entries []module.SourceEntry) (module.Artifact, error)
}

// Driver is the Function Driver: Prepare compiles (or fetches a
// previously-built) component into a sandbox.Module, cached by Module ID;
// Instantiate and Run create and drive one sandbox.Instance per invocation.
type Driver struct {
	artifacts *artifact.Store
	builder   Builder
	cache     *factory.Cache[*sandbox.Module]
}

// NewDriver constructs a Function Driver backed by artifacts for resolving
// both prebuilt signatures and newly built source, builder for compiling
// inline source, and the default 32-entry Factory Cache.
func NewDriver(artifacts *artifact.Store, builder Builder) *Driver {
	return &Driver{
		artifacts: artifacts,
		builder:   builder,
		cache:     factory.NewCache[*sandbox.Module](factory.DefaultFunctionCacheCapacity),
	}
}

func (d *Driver) Target() module.Target { return module.TargetFunction }

// funcFactory adapts a compiled sandbox.Module to the driver.Factory
// contract.
type funcFactory struct {
	id  module.ID
	mod *sandbox.Module
}

func (f funcFactory) ModuleID() module.ID { return f.id }

// Prepare resolves def's component bytes (from the artifact store if
// def.Body is a signature, or via Builder if it is inline source code),
// compiles them, and caches the result under def's Module ID. A second
// Prepare call for the same Module ID is served entirely from cache and
// never touches the artifact store or Builder again.
func (d *Driver) Prepare(ctx context.Context, def module.Definition) (driver.Factory, error) {
	if def.Target != module.TargetFunction {
		return nil, modrunerrors.BadRequest("function driver cannot prepare a definition targeting a different driver", nil)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	id, err := def.ModuleID()
	if err != nil {
		return nil, err
	}

	if cached, ok := d.cache.Get(id); ok {
		return funcFactory{id: id, mod: cached}, nil
	}

	componentBytes, err := d.resolveComponent(ctx, def)
	if err != nil {
		return nil, err
	}

	mod, err := sandbox.Compile(componentBytes)
	if err != nil {
		return nil, err
	}

	d.cache.Insert(id, mod)
	return funcFactory{id: id, mod: mod}, nil
}

func (d *Driver) resolveComponent(ctx context.Context, def module.Definition) ([]byte, error) {
	if def.Body.IsSignature() {
		return d.artifacts.Read(ctx, def.Body.Signature.String())
	}

	artifactOut, err := d.builder.Build(ctx, def.Body.SourceCode)
	if err != nil {
		return nil, err
	}
	if _, err := d.artifacts.Write(ctx, artifactOut.Component); err != nil {
		return nil, err
	}
	return artifactOut.Component, nil
}

// funcInstance adapts one sandbox.Instance to the driver.Instance
// contract. dropped guards against Run after Drop, per the lifecycle state
// machine's terminal Dropped state; Run itself may be called repeatedly
// (the Running -> Idle -> Running loop).
type funcInstance struct {
	mu      sync.Mutex
	id      module.InstanceID
	inst    *sandbox.Instance
	surface *ioshape.Surface
	dropped bool
}

func (i *funcInstance) InstanceID() module.InstanceID { return i.id }

// Rebind swaps surface into both the funcInstance and the sandbox's linked
// ABI host, ahead of the next Run call.
func (i *funcInstance) Rebind(surface *ioshape.Surface) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.surface = surface
	i.inst.RebindSurface(surface)
}

// Instantiate creates a fresh sandbox.Instance bound to surface. Callers
// must only invoke this after surface's inputs have passed policy
// validation.
func (d *Driver) Instantiate(ctx context.Context, f driver.Factory, surface *ioshape.Surface) (driver.Instance, error) {
	ff, ok := f.(funcFactory)
	if !ok {
		return nil, modrunerrors.Internal("function driver received a factory it did not prepare", nil)
	}

	host := abi.NewHost(surface)
	inst, err := sandbox.Instantiate(ff.mod, host)
	if err != nil {
		return nil, err
	}

	instID, err := module.NewInstanceID(ff.id)
	if err != nil {
		return nil, err
	}

	return &funcInstance{id: instID, inst: inst, surface: surface}, nil
}

// Run executes inst's module to completion and returns its output values,
// unlabelled (the runtime attaches labels). Run may be called again on the
// same instance until it is Dropped.
func (d *Driver) Run(ctx context.Context, i driver.Instance) (map[string]value.Value, error) {
	fi, ok := i.(*funcInstance)
	if !ok {
		return nil, modrunerrors.Internal("function driver received an instance it did not create", nil)
	}

	fi.mu.Lock()
	if fi.dropped {
		fi.mu.Unlock()
		return nil, modrunerrors.UnknownInstance(fi.id.String())
	}
	fi.mu.Unlock()

	if err := fi.inst.Run(); err != nil {
		return nil, err
	}
	return fi.surface.Outputs(), nil
}

// Drop marks inst dropped. The sandbox.Instance itself has no explicit
// teardown beyond going out of scope; wasmer's store and memory are freed
// by its finalizers once unreferenced.
func (d *Driver) Drop(ctx context.Context, i driver.Instance) error {
	fi, ok := i.(*funcInstance)
	if !ok {
		return modrunerrors.Internal("function driver received an instance it did not create", nil)
	}
	fi.mu.Lock()
	fi.dropped = true
	fi.mu.Unlock()
	return nil
}

var _ driver.Driver = (*Driver)(nil)
