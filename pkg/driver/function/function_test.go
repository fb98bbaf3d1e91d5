package function

import (
	"context"
	"testing"

	"github.com/architect-io/modrun/pkg/artifact"
	"github.com/architect-io/modrun/pkg/artifact/backend/local"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/value"
)

// emptyModule is the smallest byte sequence wasmer accepts as a valid
// WebAssembly module: just the magic number and version, no sections.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

type stubBuilder struct {
	calls int
	out   module.Artifact
}

func (b *stubBuilder) Build(ctx context.Context, entries []module.SourceEntry) (module.Artifact, error) {
	b.calls++
	return b.out, nil
}

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()
	backend, err := local.NewBackend(map[string]string{"path": t.TempDir()})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	return artifact.NewStore(backend)
}

func testDefinition() module.Definition {
	return module.Definition{
		Target:      module.TargetFunction,
		Affinity:    module.AffinityLocalOnly,
		InputShape:  ioshape.Shape{},
		OutputShape: ioshape.Shape{},
		Body: module.Body{
			SourceCode: []module.SourceEntry{{Name: "main.wat", ContentType: "text/wat", Bytes: []byte("(module)")}},
		},
	}
}

func TestPrepareBuildsOnceThenServesFromCache(t *testing.T) {
	store := newTestStore(t)
	builder := &stubBuilder{out: module.Artifact{Component: emptyModule}}
	d := NewDriver(store, builder)

	def := testDefinition()

	f1, err := d.Prepare(context.Background(), def)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if builder.calls != 1 {
		t.Fatalf("builder.calls = %d after first Prepare, want 1", builder.calls)
	}

	f2, err := d.Prepare(context.Background(), def)
	if err != nil {
		t.Fatalf("second Prepare() error = %v", err)
	}
	if builder.calls != 1 {
		t.Fatalf("builder.calls = %d after second Prepare, want 1 (cache hit)", builder.calls)
	}
	if f1.ModuleID() != f2.ModuleID() {
		t.Fatal("expected both factories to report the same Module ID")
	}
}

func TestPrepareRejectsWrongTarget(t *testing.T) {
	store := newTestStore(t)
	d := NewDriver(store, &stubBuilder{out: module.Artifact{Component: emptyModule}})

	def := testDefinition()
	def.Target = module.TargetRemote

	if _, err := d.Prepare(context.Background(), def); err == nil {
		t.Fatal("expected an error preparing a non-function-target definition")
	}
}

func TestInstantiateRejectsForeignFactory(t *testing.T) {
	store := newTestStore(t)
	d := NewDriver(store, &stubBuilder{out: module.Artifact{Component: emptyModule}})

	surface, err := ioshape.Bind(ioshape.Shape{}, ioshape.Shape{}, map[string]value.Value{}, nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	// A factory this driver did not prepare (here, the zero value) must be
	// rejected rather than type-asserted on trust.
	if _, err := d.Instantiate(context.Background(), nil, surface); err == nil {
		t.Fatal("expected an error instantiating a nil/foreign factory")
	}
}

func TestInstantiateOnModuleWithoutMemoryExportFails(t *testing.T) {
	store := newTestStore(t)
	d := NewDriver(store, &stubBuilder{out: module.Artifact{Component: emptyModule}})

	def := testDefinition()
	f, err := d.Prepare(context.Background(), def)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	surface, err := ioshape.Bind(ioshape.Shape{}, ioshape.Shape{}, map[string]value.Value{}, nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	// The empty module exports neither memory nor run, so Instantiate is
	// expected to fail wiring the memory export. A real golden-path
	// component with both exports is exercised at the integration level.
	if _, err := d.Instantiate(context.Background(), f, surface); err == nil {
		t.Fatal("expected Instantiate to fail for a module with no memory export")
	}
}
