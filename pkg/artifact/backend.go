// Package artifact implements the content-addressed Artifact Store: write
// once by content hash, read by hash, never delete. Storage is pluggable
// via the Backend interface, with implementations for local disk, S3, GCS,
// Azure Blob, and OCI registries under pkg/artifact/backend.
package artifact

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by a Backend's Read when no object exists under
// the requested key.
var ErrNotFound = errors.New("artifact: not found")

// Backend is the storage contract every artifact backend implements.
// Unlike a general key/value store, artifacts are immutable and
// content-addressed: there is deliberately no Delete — eviction is a
// deployment-policy concern outside the core's scope — and Write is
// expected to be idempotent, since two callers may race to store the same
// hash.
type Backend interface {
	// Type returns the backend's registered name (e.g. "local", "s3").
	Type() string

	// Write stores data under key, replacing nothing (the key is a content
	// hash, so a collision means identical bytes). Implementations must
	// make the write atomic: a reader must never observe a partial object.
	Write(ctx context.Context, key string, data io.Reader) error

	// Read opens the object stored under key. Returns ErrNotFound if no
	// such object exists.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

// Factory constructs a Backend from a string-keyed configuration map
// (path, bucket, region, account, etc., depending on backend).
type Factory func(config map[string]string) (Backend, error)

var registry = make(map[string]Factory)

// Register adds a backend Factory under name. Backend packages call this
// from an init() function.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// New constructs a Backend by registered name.
func New(name string, config map[string]string) (Backend, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, errors.New("artifact: unknown backend " + name)
	}
	return factory(config)
}
