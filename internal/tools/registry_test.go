package tools

import (
	"context"
	"strings"
	"testing"
)

type stubHandler struct {
	name string
}

func (h *stubHandler) Name() string        { return h.name }
func (h *stubHandler) Description() string { return "stub" }
func (h *stubHandler) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (h *stubHandler) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return NewResult(`{}`)
}

func desc(name, origin string) *Descriptor {
	return FromHandler(&stubHandler{name: name}, origin, false)
}

func TestRegistryReplaceOnDuplicateName(t *testing.T) {
	reg := NewRegistry()

	first := desc("alpha", "builtin")
	reg.Register(first)

	second := desc("alpha", "custom:alpha")
	reg.Register(second)

	got, ok := reg.Get("alpha")
	if !ok {
		t.Fatal("alpha not found after re-registration")
	}
	if got != second {
		t.Fatal("Get returned the replaced descriptor")
	}

	list := reg.List()
	if len(list) != 1 {
		t.Fatalf("List has %d entries, want 1", len(list))
	}
	if list[0] != second {
		t.Fatal("List still returns the replaced descriptor")
	}
}

func TestRegistryUnregisterByOrigin(t *testing.T) {
	reg := NewRegistry()
	reg.Register(desc("a", "external:srv1"))
	reg.Register(desc("b", "external:srv1"))
	reg.Register(desc("c", "builtin"))

	removed := reg.UnregisterByOrigin("external:srv1")
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, ok := reg.Get("a"); ok {
		t.Fatal("a still registered")
	}
	if _, ok := reg.Get("c"); !ok {
		t.Fatal("c should survive unrelated origin removal")
	}
}

func TestRegistryListIsSortedSnapshot(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"zebra", "ameise", "mitte"} {
		reg.Register(desc(n, "builtin"))
	}

	list := reg.List()
	if list[0].Name != "ameise" || list[2].Name != "zebra" {
		t.Fatalf("List not sorted: %v", []string{list[0].Name, list[1].Name, list[2].Name})
	}

	// Mutating the registry must not affect an already-taken snapshot.
	reg.Unregister("mitte")
	if len(list) != 3 {
		t.Fatal("snapshot changed after Unregister")
	}
}

func TestAsModelSchemasAppendsUsageHint(t *testing.T) {
	d := desc("alpha", "builtin")
	d.Description = "Tut etwas."
	d.UsageHint = "Nur bei Bedarf."

	defs := AsModelSchemas([]*Descriptor{d})
	if len(defs) != 1 {
		t.Fatalf("got %d defs", len(defs))
	}
	fn := defs[0].Function
	if fn.Name != "alpha" {
		t.Fatalf("name = %q", fn.Name)
	}
	if !strings.Contains(fn.Description, "Tut etwas.") || !strings.Contains(fn.Description, "Verwendung:") {
		t.Fatalf("description = %q", fn.Description)
	}
}
