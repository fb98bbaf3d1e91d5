// Package ocireg implements an OCI-registry artifact backend: each stored
// artifact becomes a single-layer image pushed under a tag derived from its
// content hash.
package ocireg

import (
	"context"
	"fmt"
	"io"

	"github.com/architect-io/modrun/pkg/artifact"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

const artifactLayerMediaType = "application/vnd.modrun.artifact.layer.v1+binary"

func init() {
	artifact.Register("ocireg", NewBackend)
}

// Backend stores artifacts as single-layer OCI images in repository, keyed
// by a tag derived from the content hash (since OCI tags cannot contain the
// hash's raw hex form safely across all registries, it is prefixed).
type Backend struct {
	repository string
	auth       authn.Keychain
}

// NewBackend creates an OCI registry backend from cfg, requiring
// "repository" (e.g. "ghcr.io/acme/modrun-artifacts").
func NewBackend(cfg map[string]string) (artifact.Backend, error) {
	repository, ok := cfg["repository"]
	if !ok || repository == "" {
		return nil, fmt.Errorf("ocireg backend requires 'repository' configuration")
	}
	return &Backend{repository: repository, auth: authn.DefaultKeychain}, nil
}

func (b *Backend) Type() string { return "ocireg" }

func (b *Backend) tagRef(key string) (name.Reference, error) {
	return name.ParseReference(fmt.Sprintf("%s:sha256-%s", b.repository, key))
}

func (b *Backend) Write(ctx context.Context, key string, data io.Reader) error {
	ref, err := b.tagRef(key)
	if err != nil {
		return fmt.Errorf("invalid reference for key %s: %w", key, err)
	}

	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read artifact data: %w", err)
	}

	layer := static.NewLayer(content, types.MediaType(artifactLayerMediaType))
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return fmt.Errorf("failed to append layer: %w", err)
	}

	if err := remote.Write(ref, img, remote.WithAuthFromKeychain(b.auth), remote.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to push artifact to %s: %w", ref, err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	ref, err := b.tagRef(key)
	if err != nil {
		return nil, fmt.Errorf("invalid reference for key %s: %w", key, err)
	}

	img, err := remote.Image(ref, remote.WithAuthFromKeychain(b.auth), remote.WithContext(ctx))
	if err != nil {
		return nil, artifact.ErrNotFound
	}

	layers, err := img.Layers()
	if err != nil || len(layers) == 0 {
		return nil, fmt.Errorf("artifact image for %s has no layers", ref)
	}

	rc, err := layers[0].Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact layer: %w", err)
	}
	return rc, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	ref, err := b.tagRef(key)
	if err != nil {
		return false, fmt.Errorf("invalid reference for key %s: %w", key, err)
	}

	if _, err := remote.Head(ref, remote.WithAuthFromKeychain(b.auth), remote.WithContext(ctx)); err != nil {
		return false, nil
	}
	return true, nil
}

var _ artifact.Backend = (*Backend)(nil)
