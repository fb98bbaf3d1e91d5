// Package remote implements the Remote Driver: a thin façade forwarding
// instantiate/run/drop to a peer runtime over a persistent connection
// (prepare makes no remote call), preserving the same Driver contract as
// the local drivers.
package remote

import (
	"context"
	"sync"

	"github.com/architect-io/modrun/pkg/driver"
	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/value"
	"github.com/architect-io/modrun/pkg/wire"
)

// Driver is the Remote Driver: prepare is a no-op placeholder (the
// definition travels with the factory and is only sent once, at
// instantiate time), instantiate and run forward to the peer.
type Driver struct {
	peer Peer
}

// NewDriver constructs a Remote Driver forwarding every instantiate/run
// call over peer.
func NewDriver(peer Peer) *Driver {
	return &Driver{peer: peer}
}

func (d *Driver) Target() module.Target { return module.TargetRemote }

// Reachable probes the peer with a lightweight "ping" call, used by the
// runtime's affinity dispatch for PrefersRemote: a peer that errors or
// times out is treated as
// unreachable, sending the invocation to its local counterpart instead of
// failing outright.
func (d *Driver) Reachable(ctx context.Context) bool {
	return d.peer.Call(ctx, "ping", struct{}{}, nil) == nil
}

// remoteFactory carries the definition forward from Prepare to Instantiate
// unmodified: the Remote Driver has nothing to compile or cache locally.
type remoteFactory struct {
	id  module.ID
	def module.Definition
}

func (f remoteFactory) ModuleID() module.ID { return f.id }

// Prepare is a no-op placeholder: it validates def and computes its
// Module ID, but makes no remote call. The definition is only sent to the
// peer once, by Instantiate.
func (d *Driver) Prepare(ctx context.Context, def module.Definition) (driver.Factory, error) {
	if def.Target != module.TargetRemote {
		return nil, modrunerrors.BadRequest("remote driver cannot prepare a definition targeting a different driver", nil)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	id, err := def.ModuleID()
	if err != nil {
		return nil, err
	}
	return remoteFactory{id: id, def: def}, nil
}

type remoteInstance struct {
	mu         sync.Mutex
	peer       Peer
	instanceID module.InstanceID
	surface    *ioshape.Surface
	dropped    bool
}

func (i *remoteInstance) InstanceID() module.InstanceID { return i.instanceID }

// Rebind swaps in surface ahead of the next Run call: Run reads its input
// from whatever surface is currently bound, so this is all forwarding a
// new invocation's input to the peer on the next Run requires.
func (i *remoteInstance) Rebind(surface *ioshape.Surface) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.surface = surface
}

// Instantiate issues a remote InstantiateModule request forwarding the
// definition and the surface's bound default input, returning a façade
// wrapping the instance ID the peer minted.
func (d *Driver) Instantiate(ctx context.Context, f driver.Factory, surface *ioshape.Surface) (driver.Instance, error) {
	rf, ok := f.(remoteFactory)
	if !ok {
		return nil, modrunerrors.Internal("remote driver received a factory it did not prepare", nil)
	}

	moduleRef, err := encodeModuleReference(rf.def)
	if err != nil {
		return nil, err
	}

	defaultInput := make(map[string]wire.Value, len(surface.InputKeys()))
	for k, v := range surface.Inputs() {
		defaultInput[k] = wire.EncodeValue(v)
	}
	defaultInputLabels := make(map[string]wire.Label, len(surface.InputKeys()))
	for k, l := range surface.InputLabels() {
		defaultInputLabels[k] = wire.EncodeLabel(l)
	}

	outputShape := make(map[string]string, len(rf.def.OutputShape))
	for k, kind := range rf.def.OutputShape {
		outputShape[k] = string(kind)
	}

	req := wire.InstantiateModuleRequest{
		Target:             string(rf.def.Target),
		ModuleReference:    moduleRef,
		DefaultInput:       defaultInput,
		DefaultInputLabels: defaultInputLabels,
		OutputShape:        outputShape,
	}

	var resp wire.InstantiateModuleResponse
	if err := d.peer.Call(ctx, "instantiate_module", req, &resp); err != nil {
		return nil, err
	}

	return &remoteInstance{peer: d.peer, instanceID: module.InstanceID(resp.InstanceID), surface: surface}, nil
}

// Run issues a remote RunModule request keyed by inst's instance ID,
// forwarding surface's bound input and decoding the peer's labelled
// output back into value.Value form. Run may be called again on the same
// instance until it is Dropped.
func (d *Driver) Run(ctx context.Context, i driver.Instance) (map[string]value.Value, error) {
	ri, ok := i.(*remoteInstance)
	if !ok {
		return nil, modrunerrors.Internal("remote driver received an instance it did not create", nil)
	}

	ri.mu.Lock()
	if ri.dropped {
		ri.mu.Unlock()
		return nil, modrunerrors.UnknownInstance(ri.instanceID.String())
	}
	ri.mu.Unlock()

	input := make(map[string]wire.Value, len(ri.surface.InputKeys()))
	for k, v := range ri.surface.Inputs() {
		input[k] = wire.EncodeValue(v)
	}
	inputLabels := make(map[string]wire.Label, len(ri.surface.InputKeys()))
	for k, l := range ri.surface.InputLabels() {
		inputLabels[k] = wire.EncodeLabel(l)
	}
	req := wire.RunModuleRequest{InstanceID: ri.instanceID.String(), Input: input, InputLabels: inputLabels}

	var resp wire.RunModuleResponse
	if err := ri.peer.Call(ctx, "run_module", req, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]value.Value, len(resp.Output))
	for k, w := range resp.Output {
		v, err := wire.DecodeValue(w)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Drop issues a remote release for inst and marks it dropped locally. Per
// the minimal peer protocol, a best-effort "drop_instance" call is made
// and its result is ignored: the instance is dropped locally either way.
func (d *Driver) Drop(ctx context.Context, i driver.Instance) error {
	ri, ok := i.(*remoteInstance)
	if !ok {
		return modrunerrors.Internal("remote driver received an instance it did not create", nil)
	}
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if ri.dropped {
		return nil
	}
	ri.dropped = true
	_ = ri.peer.Call(ctx, "drop_instance", struct {
		InstanceID string `json:"instance_id"`
	}{InstanceID: ri.instanceID.String()}, nil)
	return nil
}

func encodeModuleReference(def module.Definition) (wire.ModuleReference, error) {
	if def.Body.IsSignature() {
		id := def.Body.Signature.String()
		return wire.ModuleReference{ModuleID: &id}, nil
	}
	entries := make([]wire.SourceEntry, len(def.Body.SourceCode))
	for i, e := range def.Body.SourceCode {
		entries[i] = wire.SourceEntry{Name: e.Name, ContentType: e.ContentType, Bytes: e.Bytes}
	}
	return wire.ModuleReference{SourceCode: entries}, nil
}

var _ driver.Driver = (*Driver)(nil)
