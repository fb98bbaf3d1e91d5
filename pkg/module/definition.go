package module

import (
	"fmt"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/ioshape"
)

// Target names the closed set of driver kinds a Definition may select.
// This set is closed deliberately: adding a new target means adding a new
// Driver implementation and a new branch in the runtime's affinity table,
// never an open-ended string.
type Target string

const (
	TargetFunction   Target = "function"
	TargetFunctionVM Target = "function_vm"
	TargetRemote     Target = "remote"
)

func (t Target) Valid() bool {
	switch t {
	case TargetFunction, TargetFunctionVM, TargetRemote:
		return true
	default:
		return false
	}
}

// Affinity expresses a Definition's preference for where it should run.
type Affinity string

const (
	AffinityLocalOnly     Affinity = "local_only"
	AffinityRemoteOnly    Affinity = "remote_only"
	AffinityPrefersLocal  Affinity = "prefers_local"
	AffinityPrefersRemote Affinity = "prefers_remote"
)

func (a Affinity) Valid() bool {
	switch a {
	case AffinityLocalOnly, AffinityRemoteOnly, AffinityPrefersLocal, AffinityPrefersRemote:
		return true
	default:
		return false
	}
}

// Body is either a reference to an already-built artifact (Signature) or
// inline source to be built on demand (SourceCode). Exactly one of
// Signature/SourceCode is meaningful: a non-nil Signature selects it.
type Body struct {
	Signature  *ID
	SourceCode []SourceEntry
}

// IsSignature reports whether b references a prebuilt artifact by Module ID.
func (b Body) IsSignature() bool { return b.Signature != nil }

// IsSourceCode reports whether b carries inline source entries.
func (b Body) IsSourceCode() bool { return b.Signature == nil }

// Definition is the full description of a module a caller wants prepared.
type Definition struct {
	Target      Target
	Affinity    Affinity
	InputShape  ioshape.Shape
	OutputShape ioshape.Shape
	Body        Body
}

// Validate checks a Definition's structural invariants, independent of any
// driver's ability to actually build or run it.
func (d Definition) Validate() error {
	if !d.Target.Valid() {
		return modrunerrors.InvalidModule(fmt.Sprintf("unknown target %q", d.Target), nil)
	}
	if !d.Affinity.Valid() {
		return modrunerrors.InvalidModule(fmt.Sprintf("unknown affinity %q", d.Affinity), nil)
	}
	if err := d.InputShape.Validate(); err != nil {
		return modrunerrors.InvalidModule("invalid input shape", err)
	}
	if err := d.OutputShape.Validate(); err != nil {
		return modrunerrors.InvalidModule("invalid output shape", err)
	}
	if d.Body.Signature == nil && len(d.Body.SourceCode) == 0 {
		return modrunerrors.InvalidModule("body must be either a signature or source code", nil)
	}
	if d.Body.Signature != nil && len(d.Body.SourceCode) > 0 {
		return modrunerrors.InvalidModule("body must not set both signature and source code", nil)
	}
	return nil
}

// ModuleID computes the Definition's Module ID: the referenced signature
// directly, or the canonical hash of its source entries.
func (d Definition) ModuleID() (ID, error) {
	if d.Body.Signature != nil {
		return *d.Body.Signature, nil
	}
	return ComputeSourceID(d.Body.SourceCode)
}

// Artifact is a built, content-addressed compilation output.
type Artifact struct {
	Component []byte
	SourceMap *string
}

// Hash returns the Artifact's content-addressed key: the hash of its
// component bytes.
func (a Artifact) Hash() string {
	return ComputeArtifactHash(a.Component)
}
