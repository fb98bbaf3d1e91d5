package ioshape

import (
	"fmt"
	"sync"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/value"
	"go.uber.org/zap"
)

func invalidKindErr(key string, kind value.Kind) error {
	return modrunerrors.BadRequest(fmt.Sprintf("key %q declares unsupported kind %q", key, kind), nil)
}

// Surface is the keyed input/output map bound to a single invocation. The
// input space is read-only to the guest; the output space is write-only and
// shape-checked. Inputs and outputs are stored separately, so a key may
// appear in both InputShape and OutputShape without ambiguity: a read of
// that key only ever sees the input space, a write only ever lands in the
// output space.
type Surface struct {
	mu sync.RWMutex

	inputShape  Shape
	outputShape Shape

	inputs      map[string]value.Value
	inputLabels map[string]value.Label
	outputs     map[string]value.Value
	read        map[string]struct{}

	log *zap.Logger
}

// Bind constructs a Surface for one invocation: inputShape/outputShape
// describe the declared key spaces, and inputs supplies the bound input
// values (which must satisfy inputShape exactly — extra or missing keys are
// a bad request, since the caller controls both sides of this contract).
// inputShape and outputShape may declare the same key; the two are distinct
// spaces, not a shared namespace, so no overlap check is performed.
func Bind(inputShape, outputShape Shape, inputs map[string]value.Value, log *zap.Logger) (*Surface, error) {
	for k, kind := range inputShape {
		v, ok := inputs[k]
		if !ok {
			return nil, modrunerrors.BadRequest(fmt.Sprintf("missing required input %q", k), nil)
		}
		if v.Kind() != kind {
			return nil, modrunerrors.InvalidValue(k, string(kind), string(v.Kind()))
		}
	}
	for k := range inputs {
		if _, declared := inputShape[k]; !declared {
			return nil, modrunerrors.BadRequest(fmt.Sprintf("input %q not declared in shape", k), nil)
		}
	}

	if log == nil {
		log = zap.NewNop()
	}

	boundInputs := make(map[string]value.Value, len(inputs))
	for k, v := range inputs {
		boundInputs[k] = v
	}

	return &Surface{
		inputShape:  inputShape.Clone(),
		outputShape: outputShape.Clone(),
		inputs:      boundInputs,
		inputLabels: make(map[string]value.Label, len(boundInputs)),
		outputs:     make(map[string]value.Value),
		read:        make(map[string]struct{}),
		log:         log,
	}, nil
}

// SetInputLabels records the IFC label each input key carries. Keys not
// named here (or not yet set at all) default to value.Bottom() wherever
// their label is consulted — an input the caller declared no provenance
// for is treated as carrying no information. Labels are supplied
// separately from Bind's inputs because the wire encoding callers most
// often bind from does not itself carry labels; the runtime's
// composition root attaches them from whatever side channel the caller
// used (a labelled in-process call, or a documented default at an
// untrusted transport boundary).
func (s *Surface) SetInputLabels(labels map[string]value.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, l := range labels {
		if _, declared := s.inputShape[k]; !declared {
			continue
		}
		s.inputLabels[k] = l
	}
}

// InputLabels returns every declared input key's label, defaulting to
// value.Bottom() for a key no label was ever set for. This satisfies
// policy.IO, making a *Surface directly usable as the IO type
// policy.Validate checks.
func (s *Surface) InputLabels() map[string]value.Label {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]value.Label, len(s.inputShape))
	for k := range s.inputShape {
		if l, ok := s.inputLabels[k]; ok {
			out[k] = l
		} else {
			out[k] = value.Bottom()
		}
	}
	return out
}

// DeclaredInputLabel joins the labels of every declared input key,
// regardless of whether the guest actually read it this invocation. This
// is a safe over-approximation for output labelling: joining over the full
// declared input space can only be more restrictive than joining over the
// keys actually read, so any output labelled with it still satisfies
// label monotonicity. A module that declares no inputs has no labels to
// join and gets Bottom().
func (s *Surface) DeclaredInputLabel() value.Label {
	labels := s.InputLabels()
	if len(labels) == 0 {
		return value.Bottom()
	}
	// Join's identity: joining it with any label leaves that label as is.
	out := value.Label{Confidentiality: value.Public, Integrity: value.TopIntegrity()}
	for _, l := range labels {
		out = value.Join(out, l)
	}
	return out
}

// LabelledOutputs returns the accumulated outputs, each paired with the
// label every output inherits: DeclaredInputLabel.
func (s *Surface) LabelledOutputs() map[string]value.LabelledDatum {
	label := s.DeclaredInputLabel()
	outputs := s.Outputs()
	out := make(map[string]value.LabelledDatum, len(outputs))
	for k, v := range outputs {
		out[k] = value.Datum(v, label)
	}
	return out
}

// Read returns the input value bound to key. The second result is false if
// key is not part of the input shape. A successful read marks key as
// accessed for the purposes of ReadKeys.
func (s *Surface) Read(key string) (value.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.inputs[key]
	if ok {
		s.read[key] = struct{}{}
	}
	return v, ok
}

// Write stores v under key in the output space. If key is not declared in
// the output shape, or v's kind does not match the declared kind, the write
// is silently dropped (and logged at warn level) rather than failing the
// invocation — a misbehaving guest cannot abort a run by writing garbage.
func (s *Surface) Write(key string, v value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, declared := s.outputShape[key]
	if !declared {
		s.log.Warn("output write to undeclared key dropped", zap.String("key", key))
		return
	}
	if v.Kind() != kind {
		s.log.Warn("output write with mismatched kind dropped",
			zap.String("key", key), zap.String("want_kind", string(kind)), zap.String("got_kind", string(v.Kind())))
		return
	}
	s.outputs[key] = v
}

// Inputs returns a snapshot of every bound input value, regardless of
// whether it has been read yet. Drivers that forward an invocation's
// default input elsewhere (the Remote Driver's InstantiateModule request)
// use this; guest-visible reads go through Read, which tracks access for
// ReadKeys.
func (s *Surface) Inputs() map[string]value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]value.Value, len(s.inputs))
	for k, v := range s.inputs {
		out[k] = v
	}
	return out
}

// Outputs returns a snapshot of every output value written so far.
func (s *Surface) Outputs() map[string]value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]value.Value, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// InputKeys returns the declared input key space, for the reflect.input_keys
// ABI call.
func (s *Surface) InputKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.inputShape))
	for k := range s.inputShape {
		keys = append(keys, k)
	}
	return keys
}

// OutputKeys returns the declared output key space, for the
// reflect.output_keys ABI call.
func (s *Surface) OutputKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.outputShape))
	for k := range s.outputShape {
		keys = append(keys, k)
	}
	return keys
}

// ReadKeys returns the set of input keys actually read during the
// invocation so far. The runtime does not label outputs from it: outputs
// carry DeclaredInputLabel, the join over every declared input.
func (s *Surface) ReadKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.read))
	for k := range s.read {
		keys = append(keys, k)
	}
	return keys
}
