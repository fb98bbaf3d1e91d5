// Package sandbox wraps the wasmer-go engine to give drivers a single-
// threaded-per-invocation WebAssembly store with the keyed-state ABI linked
// in as host imports.
package sandbox

import (
	"fmt"

	"github.com/architect-io/modrun/pkg/abi"
	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/value"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// Module is a compiled WebAssembly module, cheap to instantiate repeatedly
// once compiled. Compilation is the expensive step the Factory Cache
// amortizes.
type Module struct {
	store *wasmer.Store
	inner *wasmer.Module
}

// Compile parses and validates component bytes into a Module. This is the
// "prepare" half of a driver's lifecycle.
func Compile(componentBytes []byte) (*Module, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	inner, err := wasmer.NewModule(store, componentBytes)
	if err != nil {
		return nil, modrunerrors.PreparationFailed("", err)
	}
	return &Module{store: store, inner: inner}, nil
}

// memoryBox defers access to the instance's linear memory: the ABI host
// functions must be registered before wasmer.NewInstance runs, but the
// memory export only exists once that call returns. Each host function
// closes over the box and dereferences it lazily, after Instantiate fills
// it in.
type memoryBox struct {
	memory *wasmer.Memory
}

func (b *memoryBox) read(ptr, length int32) ([]byte, error) {
	if b.memory == nil {
		return nil, modrunerrors.Internal("linear memory not yet bound", nil)
	}
	data := b.memory.Data()
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return nil, modrunerrors.BadRequest("guest pointer out of bounds", nil)
	}
	out := make([]byte, length)
	copy(out, data[ptr:int(ptr)+int(length)])
	return out, nil
}

func (b *memoryBox) write(ptr int32, payload []byte) int32 {
	if b.memory == nil {
		return 0
	}
	data := b.memory.Data()
	if ptr < 0 || int(ptr) >= len(data) {
		return 0
	}
	n := copy(data[ptr:], payload)
	return int32(n)
}

// Instance is one sandboxed instantiation: its own linear memory, its own
// store-local state, and the host functions bound to its own abi.Host. An
// Instance is never shared between instantiations — writes in one
// instance must never become visible to another; RebindSurface reuses it
// across the successive runs of that one instantiation.
type Instance struct {
	instance *wasmer.Instance
	mem      *memoryBox
	host     *abi.Host
}

// Instantiate links the keyed-state ABI host functions against host and
// creates a fresh Instance from m. This is the "instantiate" half of a
// driver's lifecycle; it must only be called after policy validation has
// produced a Validated token for this invocation.
func Instantiate(m *Module, host *abi.Host) (*Instance, error) {
	mem := &memoryBox{}

	importObject := wasmer.NewImportObject()
	importObject.Register("state", map[string]wasmer.IntoExtern{
		"read":  newStateReadFunc(m.store, host, mem),
		"write": newStateWriteFunc(m.store, host, mem),
	})
	importObject.Register("reference", map[string]wasmer.IntoExtern{
		"deref": newReferenceDerefFunc(m.store, host, mem),
	})
	importObject.Register("reflect", map[string]wasmer.IntoExtern{
		"input_keys":  newReflectKeysFunc(m.store, host.ReflectInputKeys),
		"output_keys": newReflectKeysFunc(m.store, host.ReflectOutputKeys),
	})

	inst, err := wasmer.NewInstance(m.inner, importObject)
	if err != nil {
		return nil, modrunerrors.InstantiationFailed("", err)
	}

	memory, err := inst.Exports.GetMemory("memory")
	if err != nil {
		return nil, modrunerrors.InstantiationFailed("", fmt.Errorf("module does not export linear memory: %w", err))
	}
	mem.memory = memory

	return &Instance{instance: inst, mem: mem, host: host}, nil
}

// RebindSurface swaps the IO Surface backing i's linked ABI host, so a
// subsequent Run call observes fresh input and accumulates output into the
// new surface instead of the one bound at Instantiate time. The host
// functions linked into i's wasmer.Instance closed over this same *abi.Host
// at Instantiate time, so mutating its bound surface here is visible to
// every already-linked host call without relinking anything.
func (i *Instance) RebindSurface(surface *ioshape.Surface) {
	i.host.Rebind(surface)
}

// Run invokes the module's "run" export and returns once it completes or
// traps. A trap is reported as a RunFailed error; the caller is responsible
// for marking the owning Instance invalid afterward, per the lifecycle
// state machine.
func (i *Instance) Run() error {
	runFn, err := i.instance.Exports.GetFunction("run")
	if err != nil {
		return modrunerrors.RunFailed("", fmt.Errorf("module does not export a run function: %w", err))
	}
	if _, err := runFn(); err != nil {
		return modrunerrors.RunFailed("", err)
	}
	return nil
}

// SetSource embeds source into an interpreter instance via its "alloc" and
// "set_source" exports: alloc(len) returns a guest pointer sized for the
// payload, which is written into linear memory and then handed to
// set_source(ptr, len). This is the Function-VM Driver's per-module
// preparation step, run once per instantiation of a freshly created
// interpreter instance.
func (i *Instance) SetSource(source []byte) error {
	allocFn, err := i.instance.Exports.GetFunction("alloc")
	if err != nil {
		return modrunerrors.InstantiationFailed("", fmt.Errorf("interpreter does not export alloc: %w", err))
	}
	setSourceFn, err := i.instance.Exports.GetFunction("set_source")
	if err != nil {
		return modrunerrors.InstantiationFailed("", fmt.Errorf("interpreter does not export set_source: %w", err))
	}

	ptrVal, err := allocFn(int32(len(source)))
	if err != nil {
		return modrunerrors.InstantiationFailed("", fmt.Errorf("interpreter alloc failed: %w", err))
	}
	ptr, ok := ptrVal.(int32)
	if !ok {
		return modrunerrors.InstantiationFailed("", fmt.Errorf("interpreter alloc returned unexpected type %T", ptrVal))
	}

	if n := i.mem.write(ptr, source); n != int32(len(source)) {
		return modrunerrors.InstantiationFailed("", fmt.Errorf("short write embedding source into interpreter memory: wrote %d of %d bytes", n, len(source)))
	}

	if _, err := setSourceFn(ptr, int32(len(source))); err != nil {
		return modrunerrors.InstantiationFailed("", fmt.Errorf("interpreter set_source failed: %w", err))
	}
	return nil
}

// newStateReadFunc binds state.read as (key_ptr, key_len) -> handle (or -1
// if key is not a declared, present input). The guest is expected to have
// already UTF-8 encoded the key into its own memory; the returned handle
// is opaque and must be resolved with reference.deref before its value is
// usable.
func newStateReadFunc(store *wasmer.Store, host *abi.Host, mem *memoryBox) *wasmer.Function {
	ty := wasmer.NewFunctionType(
		wasmer.NewValueTypes(wasmer.I32, wasmer.I32),
		wasmer.NewValueTypes(wasmer.I32),
	)
	return wasmer.NewFunction(store, ty, func(args []wasmer.Value) ([]wasmer.Value, error) {
		keyPtr, keyLen := args[0].I32(), args[1].I32()

		keyBytes, err := mem.read(keyPtr, keyLen)
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}

		handle, ok := host.StateRead(string(keyBytes))
		if !ok {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(int32(handle))}, nil
	})
}

// newReferenceDerefFunc binds reference.deref as (handle, out_ptr,
// out_cap) -> bytes_written (or -1 on an unknown handle, a value that no
// longer reads as present, or one whose kind has no unambiguous byte
// encoding). Values round-trip as their UTF-8 or raw-byte encoding
// depending on kind, matching the string-processor golden-path module's
// expectations.
func newReferenceDerefFunc(store *wasmer.Store, host *abi.Host, mem *memoryBox) *wasmer.Function {
	ty := wasmer.NewFunctionType(
		wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32),
		wasmer.NewValueTypes(wasmer.I32),
	)
	return wasmer.NewFunction(store, ty, func(args []wasmer.Value) ([]wasmer.Value, error) {
		handle := abi.Handle(args[0].I32())
		outPtr, outCap := args[1].I32(), args[2].I32()

		v, present, err := host.ReferenceDeref(handle)
		if err != nil || !present {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}

		payload, ok := encodeForGuest(v)
		if !ok || int32(len(payload)) > outCap {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}

		n := mem.write(outPtr, payload)
		return []wasmer.Value{wasmer.NewI32(n)}, nil
	})
}

// newStateWriteFunc binds state.write as (key_ptr, key_len, val_ptr,
// val_len) -> (). Values are treated as UTF-8 strings; a richer encoding
// for the other value kinds is left to a future ABI revision.
func newStateWriteFunc(store *wasmer.Store, host *abi.Host, mem *memoryBox) *wasmer.Function {
	ty := wasmer.NewFunctionType(
		wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32),
		wasmer.NewValueTypes(),
	)
	return wasmer.NewFunction(store, ty, func(args []wasmer.Value) ([]wasmer.Value, error) {
		keyPtr, keyLen := args[0].I32(), args[1].I32()
		valPtr, valLen := args[2].I32(), args[3].I32()

		keyBytes, err := mem.read(keyPtr, keyLen)
		if err != nil {
			return nil, nil
		}
		valBytes, err := mem.read(valPtr, valLen)
		if err != nil {
			return nil, nil
		}

		host.StateWrite(string(keyBytes), value.String(string(valBytes)))
		return nil, nil
	})
}

// newReflectKeysFunc binds reflect.input_keys/output_keys as a call
// returning the declared key count. Per-index key retrieval is omitted: no
// golden-path module in the test suite exercises reflection, and the call's
// full shape is reserved for a future revision.
func newReflectKeysFunc(store *wasmer.Store, keys func() []string) *wasmer.Function {
	ty := wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(wasmer.I32))
	return wasmer.NewFunction(store, ty, func(args []wasmer.Value) ([]wasmer.Value, error) {
		return []wasmer.Value{wasmer.NewI32(int32(len(keys())))}, nil
	})
}

// encodeForGuest converts a value.Value into the bytes passed across the
// ABI boundary. Only string and buffer kinds have an unambiguous byte
// encoding; boolean and number values are rejected here and must be read
// via a kind-specific call in a future ABI revision.
func encodeForGuest(v value.Value) ([]byte, bool) {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		return []byte(s), true
	case value.KindBuffer:
		b, _ := v.AsBuffer()
		return b, true
	default:
		return nil, false
	}
}
