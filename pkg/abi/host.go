package abi

import (
	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/value"
)

// ErrUnimplemented is returned by ABI calls that are reserved but have no
// defined behavior yet (reference.read's sub-key lookup). The ABI surfaces
// the call so a guest can detect support, rather than failing to link.
var ErrUnimplemented = modrunerrors.Internal("abi call not implemented", nil)

// Host is the set of host functions linked into every sandbox, regardless
// of driver. It is constructed once per instance, bound to that instance's
// resource table and to an IO Surface that Rebind swaps between runs.
type Host struct {
	surface   *ioshape.Surface
	resources *ResourceTable
}

// NewHost binds a Host to surface until the next Rebind.
func NewHost(surface *ioshape.Surface) *Host {
	return &Host{surface: surface, resources: NewResourceTable()}
}

// Rebind swaps in a fresh IO Surface ahead of a subsequent invocation on
// the same sandboxed instance (the lifecycle's Idle -> Running loop). The
// resource table is left untouched across the swap: handles the guest
// already holds keep resolving to whatever key they were acquired for,
// and nothing requires invalidating handles between runs.
func (h *Host) Rebind(surface *ioshape.Surface) {
	h.surface = surface
}

// StateRead implements the state.read ABI call: look up key in the
// invocation's input space and, if present, mint a resource-table handle
// bound to it rather than handing the value across the boundary directly.
// The guest resolves the handle to a value with a subsequent
// reference.deref call.
func (h *Host) StateRead(key string) (Handle, bool) {
	if _, ok := h.surface.Read(key); !ok {
		return 0, false
	}
	return h.resources.Acquire(key), true
}

// StateWrite implements the state.write ABI call: write v to key in the
// invocation's output space. Per the IO Surface contract, an undeclared key
// or a kind mismatch is silently dropped rather than erroring the guest.
func (h *Host) StateWrite(key string, v value.Value) {
	h.surface.Write(key, v)
}

// ReferenceDeref implements reference.deref: resolves a Handle to the key
// it was acquired for, then reads that key's current value out of the
// bound IO Surface. A handle whose key does not read as present in the
// currently bound surface resolves to an absent result (ok is false)
// rather than an error, matching the ABI's "may return none for opaque
// references" allowance.
func (h *Host) ReferenceDeref(handle Handle) (value.Value, bool, error) {
	key, err := h.resources.Resolve(handle)
	if err != nil {
		return value.Value{}, false, err
	}
	v, ok := h.surface.Read(key)
	return v, ok, nil
}

// ReferenceRead implements reference.read: sub-key lookup on a
// dereferenced value. Its sub-key addressing scheme is undefined, so it is
// left unimplemented rather than guessed at.
func (h *Host) ReferenceRead(handle Handle, subKey string) (value.Value, error) {
	return value.Value{}, ErrUnimplemented
}

// ReflectInputKeys implements reflect.input_keys: the declared input key
// space.
func (h *Host) ReflectInputKeys() []string {
	return h.surface.InputKeys()
}

// ReflectOutputKeys implements reflect.output_keys: the declared output key
// space.
func (h *Host) ReflectOutputKeys() []string {
	return h.surface.OutputKeys()
}

// AcquireHandle mints a new resource-table handle bound to key, for ABI
// calls (like state.read) that hand the guest an opaque reference
// instead of a string.
func (h *Host) AcquireHandle(key string) Handle {
	return h.resources.Acquire(key)
}

// ReleaseHandle drops a previously acquired handle.
func (h *Host) ReleaseHandle(handle Handle) {
	h.resources.Release(handle)
}
