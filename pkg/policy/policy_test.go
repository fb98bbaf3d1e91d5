package policy

import (
	"testing"

	"github.com/architect-io/modrun/pkg/value"
)

func TestWithDefaultsAllowsServerContext(t *testing.T) {
	p := WithDefaults()
	inputs := map[string]value.Label{"foo": {Confidentiality: value.Public, Integrity: value.HighIntegrity}}
	if err := p.Validate(inputs, Context{Environment: Server}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsInsufficientContext(t *testing.T) {
	p, err := New(
		map[value.Confidentiality]Context{
			value.Public:   {Environment: Server},
			value.Internal: {Environment: Server},
			value.Secret:   {Environment: WebBrowser},
		},
		map[value.Integrity]Context{
			value.LowIntegrity:    {Environment: Server},
			value.MediumIntegrity: {Environment: Server},
			value.HighIntegrity:   {Environment: Server},
		},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	inputs := map[string]value.Label{"secret-data": {Confidentiality: value.Secret, Integrity: value.HighIntegrity}}
	if err := p.Validate(inputs, Context{Environment: Server}); err == nil {
		t.Fatal("expected validation failure for secret data in server context")
	}
	if err := p.Validate(inputs, Context{Environment: WebBrowser}); err != nil {
		t.Fatalf("Validate should accept web browser context: %v", err)
	}
}

func TestNewRejectsIncompletePolicy(t *testing.T) {
	_, err := New(map[value.Confidentiality]Context{value.Public: {Environment: Server}}, map[value.Integrity]Context{})
	if err == nil {
		t.Fatal("expected error for incomplete policy")
	}
}

type fakeIO struct {
	labels map[string]value.Label
}

func (f fakeIO) InputLabels() map[string]value.Label { return f.labels }

func TestValidatedNeverConstructedOnFailure(t *testing.T) {
	p, _ := New(
		map[value.Confidentiality]Context{
			value.Public:   {Environment: Server},
			value.Internal: {Environment: Server},
			value.Secret:   {Environment: WebBrowser},
		},
		map[value.Integrity]Context{
			value.LowIntegrity:    {Environment: Server},
			value.MediumIntegrity: {Environment: Server},
			value.HighIntegrity:   {Environment: Server},
		},
	)
	io := fakeIO{labels: map[string]value.Label{"x": {Confidentiality: value.Secret, Integrity: value.HighIntegrity}}}

	if _, err := Validate(p, Context{Environment: Server}, io); err == nil {
		t.Fatal("expected Validate to reject secret data under server context")
	}

	v, err := Validate(p, Context{Environment: WebBrowser}, io)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.IntoInner().labels["x"].Confidentiality != value.Secret {
		t.Fatal("Validated lost the wrapped IO value")
	}
}

func TestParseEnvironmentRoundTrip(t *testing.T) {
	for _, e := range []Environment{Server, WebBrowser} {
		got, err := ParseEnvironment(e.String())
		if err != nil {
			t.Fatalf("ParseEnvironment(%s): %v", e, err)
		}
		if got != e {
			t.Fatalf("ParseEnvironment(%s) = %v, want %v", e, got, e)
		}
	}
	if _, err := ParseEnvironment("nonsense"); err == nil {
		t.Fatal("expected error for unknown environment")
	}
}
