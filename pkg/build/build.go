// Package build implements the Builder Core: materializing inline source
// into a workspace, provisioning the target's WIT definitions, invoking
// the componentizer toolchain inside a container, and storing the
// resulting component in the Artifact Store.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/architect-io/modrun/pkg/artifact"
	"github.com/architect-io/modrun/pkg/build/toolchain"
	"github.com/architect-io/modrun/pkg/build/witprovider"
	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/module"
)

// componentFileName is the toolchain's fixed output file name, written
// into the workspace's out/ directory by convention.
const componentFileName = "component.wasm"

// Builder compiles inline source code into a content-addressed Wasm
// component. It satisfies the Function Driver's Builder seam; the
// Function-VM Driver never calls it, since embedded-interpreter modules
// run their source directly rather than being componentized.
type Builder struct {
	toolchain *toolchain.Client
	wit       *witprovider.Provider
	artifacts *artifact.Store
	image     string
	log       *zap.Logger
}

// NewBuilder constructs a Builder. image names the componentizer
// toolchain's container image (e.g. the target language's bundled
// compiler plus componentize-wit tooling).
func NewBuilder(tc *toolchain.Client, wit *witprovider.Provider, artifacts *artifact.Store, image string, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{toolchain: tc, wit: wit, artifacts: artifacts, image: image, log: log}
}

// Build materializes entries into a temporary workspace, provisions the
// Function target's WIT definitions into it, runs the componentizer
// toolchain against the workspace inside an ephemeral container, and
// stores the resulting component bytes in the Artifact Store.
func (b *Builder) Build(ctx context.Context, entries []module.SourceEntry) (module.Artifact, error) {
	if len(entries) == 0 {
		return module.Artifact{}, modrunerrors.BadRequest("build request must include at least one source entry", nil)
	}

	workspaceDir, err := os.MkdirTemp("", "modrun-build-*")
	if err != nil {
		return module.Artifact{}, modrunerrors.Internal("failed to create build workspace", err)
	}
	defer os.RemoveAll(workspaceDir)

	if err := materializeWorkspace(workspaceDir, entries); err != nil {
		return module.Artifact{}, err
	}

	if err := b.provisionWIT(ctx, workspaceDir); err != nil {
		return module.Artifact{}, err
	}

	outDir := filepath.Join(workspaceDir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return module.Artifact{}, modrunerrors.Internal("failed to create build output directory", err)
	}

	result, err := b.toolchain.Run(ctx, toolchain.RunOptions{
		Image:        b.image,
		WorkspaceDir: workspaceDir,
		Command:      []string{"componentize", "--src", ".", "--wit", "wit", "--out", filepath.Join("out", componentFileName)},
	})
	if err != nil {
		return module.Artifact{}, err
	}
	if result.ExitCode == 0 && result.Stdout != "" {
		b.log.Warn("toolchain produced output on a successful build", zap.String("output", result.Stdout))
	}

	componentBytes, err := os.ReadFile(filepath.Join(outDir, componentFileName))
	if err != nil {
		return module.Artifact{}, modrunerrors.Internal("toolchain did not produce a component", err)
	}

	if _, err := b.artifacts.Write(ctx, componentBytes); err != nil {
		return module.Artifact{}, err
	}

	return module.Artifact{Component: componentBytes}, nil
}

// provisionWIT checks out the WIT repository (if not already cached) and
// copies the Function target's WIT files into workspaceDir/wit.
func (b *Builder) provisionWIT(ctx context.Context, workspaceDir string) error {
	if err := b.wit.EnsureCheckedOut(ctx); err != nil {
		return err
	}
	srcDir, err := b.wit.DirFor(module.TargetFunction)
	if err != nil {
		return err
	}

	destDir := filepath.Join(workspaceDir, "wit")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return modrunerrors.Internal("failed to create wit directory", err)
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return modrunerrors.Internal("failed to read wit definitions", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(srcDir, e.Name()))
		if err != nil {
			return modrunerrors.Internal(fmt.Sprintf("failed to read wit file %q", e.Name()), err)
		}
		if err := os.WriteFile(filepath.Join(destDir, e.Name()), data, 0o644); err != nil {
			return modrunerrors.Internal(fmt.Sprintf("failed to write wit file %q", e.Name()), err)
		}
	}
	return nil
}

// materializeWorkspace writes each source entry to dir, preserving any
// relative directory structure its Name encodes.
func materializeWorkspace(dir string, entries []module.SourceEntry) error {
	for _, e := range entries {
		path := filepath.Join(dir, e.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return modrunerrors.Internal(fmt.Sprintf("failed to create directory for %q", e.Name), err)
		}
		if err := os.WriteFile(path, e.Bytes, 0o644); err != nil {
			return modrunerrors.Internal(fmt.Sprintf("failed to write source entry %q", e.Name), err)
		}
	}
	return nil
}
