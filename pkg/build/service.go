package build

import (
	"context"

	"github.com/architect-io/modrun/pkg/artifact"
	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/wire"
)

// Service exposes the Build service's three operations (BuildComponent,
// ReadComponent, BundleSourceCode) as plain Go methods, callable in-process
// by the CLI or a future transport layer. It composes a Builder for the
// compile step and the Artifact Store directly for reads that don't need
// compilation.
type Service struct {
	builder   *Builder
	artifacts *artifact.Store
}

// NewService constructs a Build Service.
func NewService(builder *Builder, artifacts *artifact.Store) *Service {
	return &Service{builder: builder, artifacts: artifacts}
}

// BuildComponent resolves req's module reference to a content-addressed
// component. A reference that already names a Module ID is a pass-through
// (the artifact is presumed already built and stored, per the Function
// Driver's own resolveComponent logic); inline source code is compiled via
// the Builder, optionally pre-bundled.
func (s *Service) BuildComponent(ctx context.Context, req wire.BuildComponentRequest) (wire.BuildComponentResponse, error) {
	if req.ModuleReference.ModuleID != nil {
		if err := module.ValidateHex(*req.ModuleReference.ModuleID); err != nil {
			return wire.BuildComponentResponse{}, err
		}
		return wire.BuildComponentResponse{ComponentID: *req.ModuleReference.ModuleID}, nil
	}

	entries := make([]module.SourceEntry, len(req.ModuleReference.SourceCode))
	for i, e := range req.ModuleReference.SourceCode {
		entries[i] = module.SourceEntry{Name: e.Name, ContentType: e.ContentType, Bytes: e.Bytes}
	}
	if len(entries) == 0 {
		return wire.BuildComponentResponse{}, modrunerrors.BadRequest("build request must reference a module id or include source code", nil)
	}

	if req.BundleCommonImports {
		byName := make(map[string][]byte, len(entries))
		for _, e := range entries {
			byName[e.Name] = e.Bytes
		}
		bundled, err := BundleSourceCode(entries[0].ContentType, byName)
		if err != nil {
			return wire.BuildComponentResponse{}, err
		}
		entries = []module.SourceEntry{{Name: "bundle", ContentType: entries[0].ContentType, Bytes: bundled}}
	}

	artifactOut, err := s.builder.Build(ctx, entries)
	if err != nil {
		return wire.BuildComponentResponse{}, err
	}
	return wire.BuildComponentResponse{ComponentID: artifactOut.Hash()}, nil
}

// ReadComponent fetches a previously built component's bytes by its
// content-addressed ID.
func (s *Service) ReadComponent(ctx context.Context, req wire.ReadComponentRequest) (wire.ReadComponentResponse, error) {
	data, err := s.artifacts.Read(ctx, req.ComponentID)
	if err != nil {
		return wire.ReadComponentResponse{}, err
	}
	return wire.ReadComponentResponse{Component: data}, nil
}

// BundleSourceCode bundles req.Source as a single entry named "source"
// under req.ContentType, the narrowest form of the operation: one
// already-resolved file, not an import-graph resolver.
func (s *Service) BundleSourceCode(ctx context.Context, req wire.BundleSourceCodeRequest) (wire.BundleSourceCodeResponse, error) {
	bundled, err := BundleSourceCode(req.ContentType, map[string][]byte{"source": req.Source})
	if err != nil {
		return wire.BundleSourceCodeResponse{}, err
	}
	return wire.BundleSourceCodeResponse{BundledSource: bundled}, nil
}
