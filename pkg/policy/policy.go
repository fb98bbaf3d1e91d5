package policy

import (
	"fmt"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/value"
)

// Policy maps each confidentiality level and each integrity level to the
// minimum Context required to handle data carrying that level. A module's
// actual requirement for a given Label is the join (most restrictive) of
// the two lookups — see Policy.Requirement.
type Policy struct {
	confidentiality map[value.Confidentiality]Context
	integrity       map[value.Integrity]Context
}

// New constructs a Policy from explicit per-axis maps. Every level of both
// axes must be present or New returns an error describing the gap — a
// Policy that is silent about a level would let data carrying it flow
// unchecked.
func New(confidentiality map[value.Confidentiality]Context, integrity map[value.Integrity]Context) (Policy, error) {
	p := Policy{confidentiality: confidentiality, integrity: integrity}
	if err := p.validateWellFormed(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validateWellFormed() error {
	for _, c := range value.ConfidentialityLevels() {
		if _, ok := p.confidentiality[c]; !ok {
			return modrunerrors.BadRequest(fmt.Sprintf("policy missing confidentiality level %s", c), nil)
		}
	}
	for _, i := range value.IntegrityLevels() {
		if _, ok := p.integrity[i]; !ok {
			return modrunerrors.BadRequest(fmt.Sprintf("policy missing integrity level %s", i), nil)
		}
	}
	return nil
}

// WithDefaults builds the permissive baseline policy: every confidentiality
// and integrity level maps to Server, the least-isolated environment. This
// mirrors an operator who has not yet written a policy document — nothing
// is rejected, but every module still runs through the same validation path
// as a module under a strict policy.
func WithDefaults() Policy {
	conf := make(map[value.Confidentiality]Context, len(value.ConfidentialityLevels()))
	for _, c := range value.ConfidentialityLevels() {
		conf[c] = Context{Environment: Server}
	}
	integ := make(map[value.Integrity]Context, len(value.IntegrityLevels()))
	for _, i := range value.IntegrityLevels() {
		integ[i] = Context{Environment: Server}
	}
	return Policy{confidentiality: conf, integrity: integ}
}

// Requirement returns the minimum Context a module must run in to handle
// data labelled l: the more restrictive (higher-environment) of the
// confidentiality lookup and the integrity lookup.
func (p Policy) Requirement(l value.Label) Context {
	cCtx := p.confidentiality[l.Confidentiality]
	iCtx := p.integrity[l.Integrity]
	if cCtx.Environment > iCtx.Environment {
		return cCtx
	}
	return iCtx
}

// Validate checks every labelled input against p and the actual execution
// context. It returns the first violation found; a guest must never be
// instantiated when this returns an error.
func (p Policy) Validate(inputs map[string]value.Label, actual Context) error {
	for key, l := range inputs {
		req := p.Requirement(l)
		if err := req.Validate(actual); err != nil {
			return modrunerrors.Wrap(modrunerrors.CodeInvalidEnvironment,
				fmt.Sprintf("input %q violates policy", key), err)
		}
	}
	return nil
}
