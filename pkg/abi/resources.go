// Package abi implements the host side of the guest ABI: the keyed-state
// calls (state.read/write, reference.deref/read, reflect.input_keys/
// output_keys) every driver links into its sandbox, backed by an opaque
// resource table mapping guest-visible handles to host-side strings.
package abi

import (
	"sync"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
)

// Handle is an opaque guest-visible reference into the host's resource
// table. It carries no meaning to the guest beyond identity.
type Handle uint32

// ResourceTable maps handles to host-side strings (currently: IO Surface
// keys). It never forms back-pointer cycles — a released handle simply
// disappears, there's nothing else pointing at it.
type ResourceTable struct {
	mu      sync.Mutex
	next    Handle
	entries map[Handle]string
}

// NewResourceTable creates an empty table.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{entries: make(map[Handle]string)}
}

// Acquire allocates a new handle bound to key.
func (t *ResourceTable) Acquire(key string) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	t.entries[h] = key
	return h
}

// Resolve returns the key bound to h.
func (t *ResourceTable) Resolve(h Handle) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.entries[h]
	if !ok {
		return "", modrunerrors.BadRequest("unknown resource handle", nil)
	}
	return key, nil
}

// Release drops h. Releasing an unknown handle is a no-op: guest code that
// double-releases should not be able to crash the host.
func (t *ResourceTable) Release(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, h)
}
