package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/architect-io/modrun/pkg/driver"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/policy"
	"github.com/architect-io/modrun/pkg/runtime"
	"github.com/architect-io/modrun/pkg/value"
	"github.com/architect-io/modrun/pkg/wire"
)

type echoFactory struct{ id module.ID }

func (f echoFactory) ModuleID() module.ID { return f.id }

type echoInstance struct {
	id      module.InstanceID
	surface *ioshape.Surface
}

func (i *echoInstance) InstanceID() module.InstanceID   { return i.id }
func (i *echoInstance) Rebind(surface *ioshape.Surface) { i.surface = surface }

type echoDriver struct{ target module.Target }

func (d *echoDriver) Target() module.Target { return d.target }

func (d *echoDriver) Prepare(ctx context.Context, def module.Definition) (driver.Factory, error) {
	id, err := def.ModuleID()
	if err != nil {
		return nil, err
	}
	return echoFactory{id: id}, nil
}

func (d *echoDriver) Instantiate(ctx context.Context, f driver.Factory, surface *ioshape.Surface) (driver.Instance, error) {
	return &echoInstance{id: module.InstanceID("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"), surface: surface}, nil
}

func (d *echoDriver) Run(ctx context.Context, inst driver.Instance) (map[string]value.Value, error) {
	ei := inst.(*echoInstance)
	return ei.surface.Inputs(), nil
}

func (d *echoDriver) Drop(ctx context.Context, inst driver.Instance) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	rt := runtime.New(runtime.Config{
		FunctionDriver: &echoDriver{target: module.TargetFunction},
		Policy:         policy.WithDefaults(),
		Context:        policy.Context{Environment: policy.Server},
	})
	return New(rt, nil)
}

func envelope(t *testing.T, op string, payload interface{}) wire.Envelope {
	t.Helper()
	env, err := wire.MarshalEnvelope(op, payload)
	require.NoError(t, err)
	return env
}

func TestDispatchInstantiateRunDropRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	instReq := wire.InstantiateModuleRequest{
		Target: string(module.TargetFunction),
		ModuleReference: wire.ModuleReference{
			SourceCode: []wire.SourceEntry{{Name: "main", ContentType: "text/plain", Bytes: []byte("x")}},
		},
		DefaultInput:       map[string]wire.Value{"greeting": wire.EncodeValue(value.String("hi"))},
		DefaultInputLabels: map[string]wire.Label{"greeting": wire.EncodeLabel(value.Bottom())},
		OutputShape:        map[string]string{"echoed": string(value.KindString)},
	}
	resp := s.dispatch(ctx, envelope(t, "instantiate_module", instReq))
	require.Equal(t, "instantiate_module", resp.Op)

	var instResp wire.InstantiateModuleResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &instResp))
	require.NotEmpty(t, instResp.InstanceID)

	runReq := wire.RunModuleRequest{
		InstanceID:  instResp.InstanceID,
		Input:       map[string]wire.Value{"greeting": wire.EncodeValue(value.String("hello again"))},
		InputLabels: map[string]wire.Label{"greeting": wire.EncodeLabel(value.Bottom())},
	}
	resp = s.dispatch(ctx, envelope(t, "run_module", runReq))
	require.Equal(t, "run_module", resp.Op)

	var runResp wire.RunModuleResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &runResp))
	out, err := wire.DecodeValue(runResp.Output["greeting"])
	require.NoError(t, err)
	got, _ := out.AsString()
	assert.Equal(t, "hello again", got)

	resp = s.dispatch(ctx, envelope(t, "drop_instance", struct {
		InstanceID string `json:"instance_id"`
	}{InstanceID: instResp.InstanceID}))
	assert.Equal(t, "drop_instance", resp.Op)
}

func TestDispatchUnknownOpReturnsError(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(context.Background(), envelope(t, "not_a_real_op", struct{}{}))
	assert.Equal(t, "error", resp.Op)
}

func TestDispatchRunModuleMalformedInstanceIDReturnsError(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(context.Background(), envelope(t, "run_module", wire.RunModuleRequest{InstanceID: "not-hex"}))
	assert.Equal(t, "error", resp.Op)

	var payload wireErrorPayload
	require.NoError(t, json.Unmarshal(resp.Payload, &payload))
	assert.NotEmpty(t, payload.Code)
}

func TestDecodeDefinitionAlwaysLocalOnlyAffinity(t *testing.T) {
	req := wire.InstantiateModuleRequest{
		Target: string(module.TargetFunction),
		ModuleReference: wire.ModuleReference{
			SourceCode: []wire.SourceEntry{{Name: "main", ContentType: "text/plain", Bytes: []byte("x")}},
		},
		DefaultInput: map[string]wire.Value{"k": wire.EncodeValue(value.String("v"))},
	}
	def, _, _, err := decodeDefinition(req)
	require.NoError(t, err)
	assert.Equal(t, module.AffinityLocalOnly, def.Affinity)
}
