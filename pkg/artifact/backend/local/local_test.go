package local

import (
	"bytes"
	"context"
	"testing"

	"github.com/architect-io/modrun/pkg/artifact"
)

func TestBackendWriteReadExists(t *testing.T) {
	ctx := context.Background()
	b, err := NewBackend(map[string]string{"path": t.TempDir()})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	key := "deadbeef"
	exists, err := b.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("Exists() = true before Write")
	}

	if err := b.Write(ctx, key, bytes.NewReader([]byte("payload"))); err != nil {
		t.Fatalf("Write: %v", err)
	}

	exists, err = b.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("Exists() = false after Write")
	}

	rc, err := b.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer rc.Close()
}

func TestBackendReadMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	b, err := NewBackend(map[string]string{"path": t.TempDir()})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if _, err := b.Read(ctx, "missing"); err != artifact.ErrNotFound {
		t.Fatalf("Read() error = %v, want artifact.ErrNotFound", err)
	}
}
