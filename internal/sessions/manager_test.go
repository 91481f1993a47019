package sessions

import (
	"testing"

	"github.com/opengunther/guenther/internal/providers"
)

func TestBuildSessionKey(t *testing.T) {
	cases := []struct {
		agentID string
		channel string
		kind    PeerKind
		chatID  string
		want    string
	}{
		{"default", "telegram", PeerDirect, "386246614", "agent:default:telegram:direct:386246614"},
		{"default", "telegram", PeerGroup, "-100123456", "agent:default:telegram:group:-100123456"},
		{"helper", "ws", PeerDirect, "abc", "agent:helper:ws:direct:abc"},
	}
	for _, tc := range cases {
		if got := BuildSessionKey(tc.agentID, tc.channel, tc.kind, tc.chatID); got != tc.want {
			t.Fatalf("BuildSessionKey = %q, want %q", got, tc.want)
		}
	}
}

func TestBuildCronSessionKeyGuardsDoublePrefix(t *testing.T) {
	plain := BuildCronSessionKey("default", "reminder", "run1")
	if plain != "agent:default:cron:reminder:run:run1" {
		t.Fatalf("plain = %q", plain)
	}

	// A jobID that is already a canonical key must not nest.
	nested := BuildCronSessionKey("default", "agent:default:cron:reminder", "run2")
	if nested != "agent:default:cron:cron:reminder:run:run2" {
		t.Fatalf("nested = %q", nested)
	}
}

func TestManagerHistoryAndReset(t *testing.T) {
	m := NewManager("")
	key := "agent:default:test:direct:1"

	m.AddMessage(key, providers.Message{Role: "user", Content: "hallo"})
	m.AddMessage(key, providers.Message{Role: "assistant", Content: "hi"})

	history := m.GetHistory(key)
	if len(history) != 2 {
		t.Fatalf("history length = %d", len(history))
	}

	// Mutating the returned slice must not affect the stored history.
	history[0].Content = "manipuliert"
	if m.GetHistory(key)[0].Content != "hallo" {
		t.Fatal("GetHistory returned a shared slice")
	}

	m.Reset(key)
	if len(m.GetHistory(key)) != 0 {
		t.Fatal("Reset did not clear history")
	}
}

func TestManagerSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := "agent:default:test:direct:42"

	m := NewManager(dir)
	m.AddMessage(key, providers.Message{Role: "user", Content: "bleib da"})
	m.SetLabel(key, "Testsitzung")
	m.AccumulateTokens(key, 100, 20)
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewManager(dir)
	history := reloaded.GetHistory(key)
	if len(history) != 1 || history[0].Content != "bleib da" {
		t.Fatalf("reloaded history = %+v", history)
	}

	infos := reloaded.List("default")
	if len(infos) != 1 || infos[0].Label != "Testsitzung" {
		t.Fatalf("reloaded infos = %+v", infos)
	}
}

func TestManagerDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	key := "agent:default:test:direct:9"

	m := NewManager(dir)
	m.AddMessage(key, providers.Message{Role: "user", Content: "weg"})
	if err := m.Save(key); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	reloaded := NewManager(dir)
	if len(reloaded.GetHistory(key)) != 0 {
		t.Fatal("session file survived Delete")
	}
}

func TestListFiltersByAgent(t *testing.T) {
	m := NewManager("")
	m.AddMessage("agent:a:test:direct:1", providers.Message{Role: "user", Content: "x"})
	m.AddMessage("agent:b:test:direct:1", providers.Message{Role: "user", Content: "x"})

	if got := len(m.List("a")); got != 1 {
		t.Fatalf("List(a) = %d entries", got)
	}
	if got := len(m.List("")); got != 2 {
		t.Fatalf("List() = %d entries", got)
	}
}
