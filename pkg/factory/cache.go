package factory

import (
	"github.com/architect-io/modrun/pkg/module"
)

// DefaultFunctionCacheCapacity is the Function Driver's Factory Cache size.
const DefaultFunctionCacheCapacity = 32

// DefaultFunctionVMCacheCapacity is the Function-VM Driver's cache size,
// keyed separately by virtual-machine interpreter enum rather than sharing
// the Function Driver's cache.
const DefaultFunctionVMCacheCapacity = 16

// KeyedCache is a bounded, SIEVE-evicted cache of values of type V keyed by
// K. It is safe for concurrent use: Get/Insert serialize internally, and a
// value returned by Get is shared by reference across concurrent callers
// per the ownership model — callers must not mutate it.
type KeyedCache[K comparable, V any] struct {
	inner *sieve[K, V]
}

// NewKeyedCache constructs a KeyedCache bounded to capacity entries.
func NewKeyedCache[K comparable, V any](capacity int) *KeyedCache[K, V] {
	return &KeyedCache[K, V]{inner: newSieve[K, V](capacity)}
}

// Get returns the value cached under key, if still resident.
func (c *KeyedCache[K, V]) Get(key K) (V, bool) {
	return c.inner.get(key)
}

// Insert adds or replaces the value cached under key. A second Insert for a
// key that already has an entry is a no-op for cache-equality purposes: Get
// afterward returns the same logical value, satisfying the Factory-
// idempotence property (two successive prepare calls on the same
// definition must not re-invoke the Builder).
func (c *KeyedCache[K, V]) Insert(key K, value V) {
	c.inner.insert(key, value)
}

// Len reports the number of values currently resident.
func (c *KeyedCache[K, V]) Len() int {
	return c.inner.len()
}

// Cache specializes KeyedCache to the common case of caching prepared
// driver factories keyed by Module ID.
type Cache[V any] = KeyedCache[module.ID, V]

// NewCache constructs a Cache bounded to capacity entries.
func NewCache[V any](capacity int) *Cache[V] {
	return NewKeyedCache[module.ID, V](capacity)
}
