// Package interpreter supplies the Function-VM Driver's embedded-interpreter
// component bytes from disk, the simplest InterpreterProvider a deployment
// can run with: one pre-built .wasm file per interpreter, shipped alongside
// the binary rather than fetched from the Artifact Store.
package interpreter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/driver/functionvm"
)

// fileNames is the fixed interpreter -> file-name mapping.
var fileNames = map[functionvm.Interpreter]string{
	functionvm.InterpreterJavaScript: "javascript.wasm",
	functionvm.InterpreterPython:     "python.wasm",
}

// DiskProvider loads interpreter components from a fixed directory.
type DiskProvider struct {
	dir string
}

// NewDiskProvider constructs a DiskProvider reading interpreter components
// out of dir.
func NewDiskProvider(dir string) *DiskProvider {
	return &DiskProvider{dir: dir}
}

// Load reads interp's compiled bytes from disk.
func (p *DiskProvider) Load(ctx context.Context, interp functionvm.Interpreter) ([]byte, error) {
	name, ok := fileNames[interp]
	if !ok {
		return nil, modrunerrors.BadRequest(fmt.Sprintf("no interpreter component registered for %q", interp), nil)
	}
	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		return nil, modrunerrors.Internal(fmt.Sprintf("failed to read interpreter component %q", name), err)
	}
	return data, nil
}

var _ functionvm.InterpreterProvider = (*DiskProvider)(nil)
