// Package functionvm implements the Function-VM Driver: the interpreted
// mode that runs module source inside a pre-built embedded-interpreter
// Wasm component, selected by content type and shared across modules via a
// 16-entry interpreter cache.
package functionvm

import (
	"context"
	"fmt"
	"sync"

	"github.com/architect-io/modrun/pkg/abi"
	"github.com/architect-io/modrun/pkg/driver"
	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/factory"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/sandbox"
	"github.com/architect-io/modrun/pkg/value"
)

// Interpreter identifies one embedded-interpreter Wasm component. This is
// the VirtualModuleInterpreter enum the interpreter cache is keyed by.
type Interpreter string

const (
	InterpreterJavaScript Interpreter = "javascript"
	InterpreterPython     Interpreter = "python"
)

// interpreterForContentType maps a source entry's declared content type to
// the interpreter that can run it.
func interpreterForContentType(contentType string) (Interpreter, error) {
	switch contentType {
	case "application/javascript", "text/javascript":
		return InterpreterJavaScript, nil
	case "text/x-python", "application/x-python":
		return InterpreterPython, nil
	default:
		return "", modrunerrors.BadRequest(fmt.Sprintf("no interpreter registered for content type %q", contentType), nil)
	}
}

// InterpreterProvider resolves the compiled Wasm bytes for an interpreter.
// Like function.Builder, this is a narrow seam so the driver does not
// depend on how interpreter components are packaged or fetched.
type InterpreterProvider interface {
	Load(ctx context.Context, interp Interpreter) ([]byte, error)
}

// Driver is the Function-VM Driver. Unlike the Function Driver, what it
// caches is the interpreter component (shared across every module that
// uses it), not the per-module factory: each Prepare call selects an
// interpreter, compiles it once, and hands back a lightweight factory
// carrying the module's source to embed at Instantiate time.
type Driver struct {
	provider     InterpreterProvider
	interpreters *factory.KeyedCache[Interpreter, *sandbox.Module]
}

// NewDriver constructs a Function-VM Driver backed by provider for loading
// interpreter bytes, with the default 16-entry interpreter cache.
func NewDriver(provider InterpreterProvider) *Driver {
	return &Driver{
		provider:     provider,
		interpreters: factory.NewKeyedCache[Interpreter, *sandbox.Module](factory.DefaultFunctionVMCacheCapacity),
	}
}

func (d *Driver) Target() module.Target { return module.TargetFunctionVM }

type vmFactory struct {
	id          module.ID
	interpreter *sandbox.Module
	source      []byte
}

func (f vmFactory) ModuleID() module.ID { return f.id }

// Prepare selects an interpreter for def's source (by its first entry's
// content type — Function-VM modules are single-file source bundles),
// compiling and caching that interpreter if it is not already resident,
// and returns a factory that carries the bundled source to embed on
// instantiation. def.Body must be inline source: a signature has no
// content type to dispatch an interpreter from, so signature-backed
// Function-VM definitions are rejected.
func (d *Driver) Prepare(ctx context.Context, def module.Definition) (driver.Factory, error) {
	if def.Target != module.TargetFunctionVM {
		return nil, modrunerrors.BadRequest("function-vm driver cannot prepare a definition targeting a different driver", nil)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.Body.IsSignature() {
		return nil, modrunerrors.BadRequest("function-vm driver requires inline source code to select an interpreter", nil)
	}

	id, err := def.ModuleID()
	if err != nil {
		return nil, err
	}

	entry := def.Body.SourceCode[0]
	interp, err := interpreterForContentType(entry.ContentType)
	if err != nil {
		return nil, err
	}

	mod, ok := d.interpreters.Get(interp)
	if !ok {
		interpBytes, err := d.provider.Load(ctx, interp)
		if err != nil {
			return nil, err
		}
		mod, err = sandbox.Compile(interpBytes)
		if err != nil {
			return nil, err
		}
		d.interpreters.Insert(interp, mod)
	}

	return vmFactory{id: id, interpreter: mod, source: entry.Bytes}, nil
}

type vmInstance struct {
	mu      sync.Mutex
	id      module.InstanceID
	inst    *sandbox.Instance
	surface *ioshape.Surface
	dropped bool
}

func (i *vmInstance) InstanceID() module.InstanceID { return i.id }

// Rebind swaps surface into both the vmInstance and the interpreter's
// linked ABI host, ahead of the next Run call. The embedded source from
// set_source is untouched: only the input/output IO Surface changes
// between runs of the same interpreter instance.
func (i *vmInstance) Rebind(surface *ioshape.Surface) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.surface = surface
	i.inst.RebindSurface(surface)
}

// Instantiate creates a fresh interpreter instance and embeds the
// factory's module source into it via set_source, corresponding to the
// lifecycle machine's Instantiating -> Running transition for VM mode.
func (d *Driver) Instantiate(ctx context.Context, f driver.Factory, surface *ioshape.Surface) (driver.Instance, error) {
	vf, ok := f.(vmFactory)
	if !ok {
		return nil, modrunerrors.Internal("function-vm driver received a factory it did not prepare", nil)
	}

	host := abi.NewHost(surface)
	inst, err := sandbox.Instantiate(vf.interpreter, host)
	if err != nil {
		return nil, err
	}
	if err := inst.SetSource(vf.source); err != nil {
		return nil, err
	}

	instID, err := module.NewInstanceID(vf.id)
	if err != nil {
		return nil, err
	}

	return &vmInstance{id: instID, inst: inst, surface: surface}, nil
}

// Run executes the embedded module to completion, identically to the
// Function Driver's Run: VM-mode run semantics are identical to compiled
// mode. Run may be called again on the same instance until it is Dropped.
func (d *Driver) Run(ctx context.Context, i driver.Instance) (map[string]value.Value, error) {
	vi, ok := i.(*vmInstance)
	if !ok {
		return nil, modrunerrors.Internal("function-vm driver received an instance it did not create", nil)
	}

	vi.mu.Lock()
	if vi.dropped {
		vi.mu.Unlock()
		return nil, modrunerrors.UnknownInstance(vi.id.String())
	}
	vi.mu.Unlock()

	if err := vi.inst.Run(); err != nil {
		return nil, err
	}
	return vi.surface.Outputs(), nil
}

// Drop marks inst dropped; further Run calls fail with UnknownInstance.
func (d *Driver) Drop(ctx context.Context, i driver.Instance) error {
	vi, ok := i.(*vmInstance)
	if !ok {
		return modrunerrors.Internal("function-vm driver received an instance it did not create", nil)
	}
	vi.mu.Lock()
	vi.dropped = true
	vi.mu.Unlock()
	return nil
}

var _ driver.Driver = (*Driver)(nil)
