package remote

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/value"
	"github.com/architect-io/modrun/pkg/wire"
)

// fakePeer is an in-process Peer stand-in: it records every call and
// returns canned responses, so the driver's forwarding logic can be tested
// without a real websocket connection.
type fakePeer struct {
	calls     []string
	responses map[string]interface{}
}

func (p *fakePeer) Call(ctx context.Context, op string, payload, out interface{}) error {
	p.calls = append(p.calls, op)
	resp, ok := p.responses[op]
	if !ok || out == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *fakePeer) Close() error { return nil }

func testDefinition() module.Definition {
	return module.Definition{
		Target:      module.TargetRemote,
		Affinity:    module.AffinityRemoteOnly,
		InputShape:  ioshape.Shape{"in": value.KindString},
		OutputShape: ioshape.Shape{"out": value.KindString},
		Body: module.Body{
			SourceCode: []module.SourceEntry{{Name: "main.wat", ContentType: "text/wat", Bytes: []byte("(module)")}},
		},
	}
}

func TestPrepareIsANoOp(t *testing.T) {
	peer := &fakePeer{}
	d := NewDriver(peer)

	if _, err := d.Prepare(context.Background(), testDefinition()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(peer.calls) != 0 {
		t.Fatalf("expected no remote calls from Prepare, got %v", peer.calls)
	}
}

func TestInstantiateForwardsDefaultInputAndRun(t *testing.T) {
	peer := &fakePeer{
		responses: map[string]interface{}{
			"instantiate_module": wire.InstantiateModuleResponse{ModuleID: "m1", InstanceID: "i1"},
			"run_module":         wire.RunModuleResponse{Output: map[string]wire.Value{"out": wire.EncodeValue(value.String("hi"))}},
		},
	}
	d := NewDriver(peer)

	f, err := d.Prepare(context.Background(), testDefinition())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	surface, err := ioshape.Bind(
		ioshape.Shape{"in": value.KindString},
		ioshape.Shape{"out": value.KindString},
		map[string]value.Value{"in": value.String("hello")},
		nil,
	)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	inst, err := d.Instantiate(context.Background(), f, surface)
	if err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}
	if inst.InstanceID() != "i1" {
		t.Fatalf("InstanceID() = %q, want i1", inst.InstanceID())
	}

	out, err := d.Run(context.Background(), inst)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, ok := out["out"].AsString()
	if !ok || got != "hi" {
		t.Fatalf("out[\"out\"] = %v, want string(hi)", out["out"])
	}

	if len(peer.calls) != 2 || peer.calls[0] != "instantiate_module" || peer.calls[1] != "run_module" {
		t.Fatalf("peer.calls = %v, want [instantiate_module run_module]", peer.calls)
	}
}

func TestRunAfterDropFails(t *testing.T) {
	peer := &fakePeer{
		responses: map[string]interface{}{
			"instantiate_module": wire.InstantiateModuleResponse{ModuleID: "m1", InstanceID: "i1"},
		},
	}
	d := NewDriver(peer)

	f, err := d.Prepare(context.Background(), testDefinition())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	surface, err := ioshape.Bind(
		ioshape.Shape{"in": value.KindString},
		ioshape.Shape{"out": value.KindString},
		map[string]value.Value{"in": value.String("hello")},
		nil,
	)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	inst, err := d.Instantiate(context.Background(), f, surface)
	if err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}

	if err := d.Drop(context.Background(), inst); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	if _, err := d.Run(context.Background(), inst); err == nil {
		t.Fatal("expected Run after Drop to fail")
	}
}
