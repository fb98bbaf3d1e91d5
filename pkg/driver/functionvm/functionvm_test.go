package functionvm

import (
	"context"
	"testing"

	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/value"
)

var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

type stubProvider struct {
	calls int
	bytes []byte
}

func (p *stubProvider) Load(ctx context.Context, interp Interpreter) ([]byte, error) {
	p.calls++
	return p.bytes, nil
}

func jsDefinition(source string) module.Definition {
	return module.Definition{
		Target:      module.TargetFunctionVM,
		Affinity:    module.AffinityLocalOnly,
		InputShape:  ioshape.Shape{},
		OutputShape: ioshape.Shape{},
		Body: module.Body{
			SourceCode: []module.SourceEntry{{Name: "main.js", ContentType: "application/javascript", Bytes: []byte(source)}},
		},
	}
}

func TestPrepareLoadsInterpreterOnceAcrossModules(t *testing.T) {
	provider := &stubProvider{bytes: emptyModule}
	d := NewDriver(provider)

	f1, err := d.Prepare(context.Background(), jsDefinition("console.log(1)"))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("provider.calls = %d after first Prepare, want 1", provider.calls)
	}

	// A different module body (different Module ID) using the same
	// interpreter must not reload the interpreter component.
	f2, err := d.Prepare(context.Background(), jsDefinition("console.log(2)"))
	if err != nil {
		t.Fatalf("second Prepare() error = %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("provider.calls = %d after second Prepare, want 1 (interpreter cache hit)", provider.calls)
	}
	if f1.ModuleID() == f2.ModuleID() {
		t.Fatal("expected distinct Module IDs for distinct source bodies")
	}
}

func TestPrepareRejectsSignatureBody(t *testing.T) {
	d := NewDriver(&stubProvider{bytes: emptyModule})
	sig := module.ID("deadbeef")
	def := jsDefinition("ignored")
	def.Body = module.Body{Signature: &sig}

	if _, err := d.Prepare(context.Background(), def); err == nil {
		t.Fatal("expected an error preparing a signature-backed function-vm definition")
	}
}

func TestPrepareRejectsUnknownContentType(t *testing.T) {
	d := NewDriver(&stubProvider{bytes: emptyModule})
	def := jsDefinition("ignored")
	def.Body.SourceCode[0].ContentType = "application/x-unknown"

	if _, err := d.Prepare(context.Background(), def); err == nil {
		t.Fatal("expected an error preparing a definition with an unregistered content type")
	}
}

func TestInstantiateOnInterpreterWithoutMemoryExportFails(t *testing.T) {
	d := NewDriver(&stubProvider{bytes: emptyModule})
	f, err := d.Prepare(context.Background(), jsDefinition("ignored"))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	surface, err := ioshape.Bind(ioshape.Shape{}, ioshape.Shape{}, map[string]value.Value{}, nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if _, err := d.Instantiate(context.Background(), f, surface); err == nil {
		t.Fatal("expected Instantiate to fail for an interpreter module with no memory export")
	}
}
