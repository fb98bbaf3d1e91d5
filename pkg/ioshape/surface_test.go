package ioshape

import (
	"testing"

	"github.com/architect-io/modrun/pkg/value"
)

func TestBindAllowsOverlappingShapesAsDistinctSpaces(t *testing.T) {
	in := Shape{"x": value.KindString}
	out := Shape{"x": value.KindString}
	surf, err := Bind(in, out, map[string]value.Value{"x": value.String("a")}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	v, ok := surf.Read("x")
	if !ok {
		t.Fatal("expected input key to read")
	}
	if s, _ := v.AsString(); s != "a" {
		t.Fatalf("Read(x) = %q, want %q", s, "a")
	}
	if _, ok := surf.Outputs()["x"]; ok {
		t.Fatal("output space should not see the input value for the shared key")
	}

	surf.Write("x", value.String("b"))
	out2, ok := surf.Outputs()["x"]
	if !ok {
		t.Fatal("expected write to the shared key to land in the output space")
	}
	if s, _ := out2.AsString(); s != "b" {
		t.Fatalf("Outputs()[x] = %q, want %q", s, "b")
	}
	if v, _ := surf.Read("x"); func() string { s, _ := v.AsString(); return s }() != "a" {
		t.Fatal("write to the shared key must not change what Read sees on the input side")
	}
}

func TestBindRejectsMissingAndExtraInputs(t *testing.T) {
	in := Shape{"x": value.KindString}
	out := Shape{"y": value.KindString}

	if _, err := Bind(in, out, map[string]value.Value{}, nil); err == nil {
		t.Fatal("expected error for missing required input")
	}
	if _, err := Bind(in, out, map[string]value.Value{"x": value.String("a"), "z": value.Boolean(true)}, nil); err == nil {
		t.Fatal("expected error for undeclared input")
	}
}

func TestBindRejectsKindMismatch(t *testing.T) {
	in := Shape{"x": value.KindString}
	out := Shape{}
	_, err := Bind(in, out, map[string]value.Value{"x": value.Number(1)}, nil)
	if err == nil {
		t.Fatal("expected error for input kind mismatch")
	}
}

func TestWriteSilentlyDropsUndeclaredOrMismatchedOutputs(t *testing.T) {
	in := Shape{}
	out := Shape{"result": value.KindString}
	surf, err := Bind(in, out, map[string]value.Value{}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	surf.Write("bogus", value.String("nope"))
	surf.Write("result", value.Number(1))
	if _, ok := surf.Outputs()["bogus"]; ok {
		t.Fatal("undeclared output key was not dropped")
	}
	if _, ok := surf.Outputs()["result"]; ok {
		t.Fatal("mismatched-kind output was not dropped")
	}

	surf.Write("result", value.String("ok"))
	got, ok := surf.Outputs()["result"]
	if !ok {
		t.Fatal("valid output write was dropped")
	}
	if s, _ := got.AsString(); s != "ok" {
		t.Fatalf("output value = %q, want %q", s, "ok")
	}
}

func TestReadKeysTracksAccessedInputsOnly(t *testing.T) {
	in := Shape{"a": value.KindString, "b": value.KindString}
	out := Shape{}
	surf, err := Bind(in, out, map[string]value.Value{"a": value.String("1"), "b": value.String("2")}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if len(surf.ReadKeys()) != 0 {
		t.Fatal("ReadKeys should be empty before any Read")
	}
	surf.Read("a")
	keys := surf.ReadKeys()
	if len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("ReadKeys() = %v, want [a]", keys)
	}
}
