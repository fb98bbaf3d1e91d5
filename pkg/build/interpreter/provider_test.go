package interpreter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/architect-io/modrun/pkg/driver/functionvm"
)

func TestDiskProviderLoadsRegisteredInterpreter(t *testing.T) {
	dir := t.TempDir()
	want := []byte("fake compiled javascript interpreter")
	if err := os.WriteFile(filepath.Join(dir, "javascript.wasm"), want, 0o644); err != nil {
		t.Fatalf("failed to seed interpreter file: %v", err)
	}

	p := NewDiskProvider(dir)
	got, err := p.Load(context.Background(), functionvm.InterpreterJavaScript)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("unexpected interpreter bytes: got %q want %q", got, want)
	}
}

func TestDiskProviderRejectsUnknownInterpreter(t *testing.T) {
	p := NewDiskProvider(t.TempDir())
	if _, err := p.Load(context.Background(), functionvm.Interpreter("ruby")); err == nil {
		t.Fatal("expected error for unregistered interpreter")
	}
}

func TestDiskProviderMissingFileFails(t *testing.T) {
	p := NewDiskProvider(t.TempDir())
	if _, err := p.Load(context.Background(), functionvm.InterpreterPython); err == nil {
		t.Fatal("expected error when interpreter file is absent")
	}
}
