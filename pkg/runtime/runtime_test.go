package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/architect-io/modrun/pkg/driver"
	"github.com/architect-io/modrun/pkg/ioshape"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/policy"
	"github.com/architect-io/modrun/pkg/value"
)

// fakeFactory and fakeInstance let a fakeDriver stand in for a real
// compiled/interpreted driver without touching a sandbox.
type fakeFactory struct{ id module.ID }

func (f fakeFactory) ModuleID() module.ID { return f.id }

type fakeInstance struct {
	id      module.InstanceID
	surface *ioshape.Surface
}

func (i *fakeInstance) InstanceID() module.InstanceID { return i.id }
func (i *fakeInstance) Rebind(surface *ioshape.Surface) { i.surface = surface }

// fakeDriver echoes every bound input straight back as output keyed the
// same name, so tests can assert on label propagation without a real
// guest payload.
type fakeDriver struct {
	target     module.Target
	reachable  bool
	prepareErr error
	runErr     error
	dropped    []module.InstanceID
}

func (d *fakeDriver) Target() module.Target { return d.target }

func (d *fakeDriver) Reachable(ctx context.Context) bool { return d.reachable }

func (d *fakeDriver) Prepare(ctx context.Context, def module.Definition) (driver.Factory, error) {
	if d.prepareErr != nil {
		return nil, d.prepareErr
	}
	id, err := def.ModuleID()
	if err != nil {
		return nil, err
	}
	return fakeFactory{id: id}, nil
}

func (d *fakeDriver) Instantiate(ctx context.Context, f driver.Factory, surface *ioshape.Surface) (driver.Instance, error) {
	return &fakeInstance{id: module.InstanceID("inst-1"), surface: surface}, nil
}

func (d *fakeDriver) Run(ctx context.Context, inst driver.Instance) (map[string]value.Value, error) {
	if d.runErr != nil {
		return nil, d.runErr
	}
	fi := inst.(*fakeInstance)
	out := make(map[string]value.Value, len(fi.surface.Inputs()))
	for k, v := range fi.surface.Inputs() {
		out[k] = v
	}
	return out, nil
}

func (d *fakeDriver) Drop(ctx context.Context, inst driver.Instance) error {
	d.dropped = append(d.dropped, inst.InstanceID())
	return nil
}

func testDef(target module.Target, affinity module.Affinity) module.Definition {
	return module.Definition{
		Target:      target,
		Affinity:    affinity,
		InputShape:  ioshape.Shape{"in": value.KindString},
		OutputShape: ioshape.Shape{"in": value.KindString},
		Body: module.Body{
			SourceCode: []module.SourceEntry{{Name: "main", ContentType: "text/plain", Bytes: []byte("x")}},
		},
	}
}

func newTestRuntime(t *testing.T, fn, fvm driver.Driver, remote ReachableDriver) *Runtime {
	t.Helper()
	return New(Config{
		FunctionDriver:   fn,
		FunctionVMDriver: fvm,
		RemoteDriver:     remote,
		Policy:           policy.WithDefaults(),
		Context:          policy.Context{Environment: policy.Server},
	})
}

func TestInstantiateAndRunRoundTrip(t *testing.T) {
	fn := &fakeDriver{target: module.TargetFunction}
	rt := newTestRuntime(t, fn, nil, nil)

	def := testDef(module.TargetFunction, module.AffinityLocalOnly)
	instID, err := rt.InstantiateModule(context.Background(), def,
		map[string]value.Value{"in": value.String("hello")},
		map[string]value.Label{"in": value.Bottom()})
	require.NoError(t, err)
	require.NotEmpty(t, instID)

	out, err := rt.RunModule(context.Background(), instID,
		map[string]value.Value{"in": value.String("world")},
		map[string]value.Label{"in": value.Bottom()})
	require.NoError(t, err)

	got, ok := out["in"].Value.AsString()
	assert.True(t, ok)
	assert.Equal(t, "world", got)
	assert.Equal(t, value.Bottom(), out["in"].Label)
}

func TestRunUnknownInstanceFails(t *testing.T) {
	fn := &fakeDriver{target: module.TargetFunction}
	rt := newTestRuntime(t, fn, nil, nil)

	_, err := rt.RunModule(context.Background(), module.InstanceID("does-not-exist"), nil, nil)
	assert.Error(t, err)
}

func TestDropThenRunFails(t *testing.T) {
	fn := &fakeDriver{target: module.TargetFunction}
	rt := newTestRuntime(t, fn, nil, nil)

	def := testDef(module.TargetFunction, module.AffinityLocalOnly)
	instID, err := rt.InstantiateModule(context.Background(), def,
		map[string]value.Value{"in": value.String("hi")},
		map[string]value.Label{"in": value.Bottom()})
	require.NoError(t, err)

	require.NoError(t, rt.DropInstance(context.Background(), instID))
	assert.Len(t, fn.dropped, 1)

	_, err = rt.RunModule(context.Background(), instID, nil, nil)
	assert.Error(t, err)
}

func TestSelectDriverLocalOnlyRequiresLocalDriver(t *testing.T) {
	rt := newTestRuntime(t, nil, nil, nil)
	def := testDef(module.TargetFunction, module.AffinityLocalOnly)

	_, err := rt.InstantiateModule(context.Background(), def, nil, nil)
	assert.Error(t, err)
}

func TestSelectDriverPrefersLocalFallsBackToRemote(t *testing.T) {
	remote := &fakeDriver{target: module.TargetRemote, reachable: true}
	rt := newTestRuntime(t, nil, nil, remote)
	def := testDef(module.TargetFunction, module.AffinityPrefersLocal)

	_, err := rt.InstantiateModule(context.Background(), def,
		map[string]value.Value{"in": value.String("x")},
		map[string]value.Label{"in": value.Bottom()})
	require.NoError(t, err)
}

func TestSelectDriverPrefersRemoteFallsBackToLocalWhenUnreachable(t *testing.T) {
	fn := &fakeDriver{target: module.TargetFunction}
	remote := &fakeDriver{target: module.TargetRemote, reachable: false}
	rt := newTestRuntime(t, fn, nil, remote)
	def := testDef(module.TargetFunction, module.AffinityPrefersRemote)

	_, err := rt.InstantiateModule(context.Background(), def,
		map[string]value.Value{"in": value.String("x")},
		map[string]value.Label{"in": value.Bottom()})
	require.NoError(t, err)
}

func TestPolicyViolationBlocksInstantiate(t *testing.T) {
	fn := &fakeDriver{target: module.TargetFunction}
	strict, err := policy.New(
		map[value.Confidentiality]policy.Context{
			value.Public:   {Environment: policy.Server},
			value.Internal: {Environment: policy.Server},
			value.Secret:   {Environment: policy.WebBrowser},
		},
		map[value.Integrity]policy.Context{
			value.LowIntegrity:    {Environment: policy.Server},
			value.MediumIntegrity: {Environment: policy.Server},
			value.HighIntegrity:   {Environment: policy.Server},
		},
	)
	require.NoError(t, err)

	rt := New(Config{
		FunctionDriver: fn,
		Policy:         strict,
		Context:        policy.Context{Environment: policy.Server},
	})

	def := testDef(module.TargetFunction, module.AffinityLocalOnly)
	_, err = rt.InstantiateModule(context.Background(), def,
		map[string]value.Value{"in": value.String("secret")},
		map[string]value.Label{"in": {Confidentiality: value.Secret, Integrity: value.LowIntegrity}})
	assert.Error(t, err)
}

func TestRunFailureLeavesInstanceIdleNotTerminal(t *testing.T) {
	fn := &fakeDriver{target: module.TargetFunction}
	rt := newTestRuntime(t, fn, nil, nil)

	def := testDef(module.TargetFunction, module.AffinityLocalOnly)
	instID, err := rt.InstantiateModule(context.Background(), def,
		map[string]value.Value{"in": value.String("hi")},
		map[string]value.Label{"in": value.Bottom()})
	require.NoError(t, err)

	fn.runErr = assert.AnError
	_, err = rt.RunModule(context.Background(), instID,
		map[string]value.Value{"in": value.String("hi")},
		map[string]value.Label{"in": value.Bottom()})
	require.Error(t, err)

	fn.runErr = nil
	_, err = rt.RunModule(context.Background(), instID,
		map[string]value.Value{"in": value.String("again")},
		map[string]value.Label{"in": value.Bottom()})
	assert.NoError(t, err)
}
