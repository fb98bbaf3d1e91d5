package factory

import (
	"testing"

	"github.com/architect-io/modrun/pkg/module"
)

func TestCacheGetInsertRoundTrip(t *testing.T) {
	c := NewCache[string](4)
	id := module.ID("abc123")

	if _, ok := c.Get(id); ok {
		t.Fatal("expected miss before insert")
	}

	c.Insert(id, "prepared-factory")
	got, ok := c.Get(id)
	if !ok || got != "prepared-factory" {
		t.Fatalf("Get() = (%v, %v), want (prepared-factory, true)", got, ok)
	}
}

func TestCacheIdempotentInsertSameID(t *testing.T) {
	c := NewCache[int](4)
	id := module.ID("same")
	c.Insert(id, 1)
	c.Insert(id, 1)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after two inserts of the same id", c.Len())
	}
}
