package telegram

import (
	"path/filepath"
	"testing"
)

func TestUserDirectoryRecordAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telegram_users.json")
	d, err := NewUserDirectory(path)
	if err != nil {
		t.Fatalf("NewUserDirectory: %v", err)
	}

	d.Record("Alice", "1001")

	for _, query := range []string{"alice", "Alice", "@alice", " @Alice "} {
		id, ok := d.Lookup(query)
		if !ok || id != "1001" {
			t.Fatalf("Lookup(%q) = %q, %v", query, id, ok)
		}
	}

	if _, ok := d.Lookup("bob"); ok {
		t.Fatal("unknown user resolved")
	}
}

func TestUserDirectoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telegram_users.json")

	d, _ := NewUserDirectory(path)
	d.Record("alice", "1001")
	d.Record("alice", "2002") // last writer wins

	reloaded, err := NewUserDirectory(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	id, ok := reloaded.Lookup("alice")
	if !ok || id != "2002" {
		t.Fatalf("reloaded Lookup = %q, %v", id, ok)
	}
}

func TestUserDirectoryIgnoresEmptyUsername(t *testing.T) {
	d, _ := NewUserDirectory(filepath.Join(t.TempDir(), "u.json"))
	d.Record("", "1001")
	if _, ok := d.Lookup(""); ok {
		t.Fatal("empty username stored")
	}
}
