package telegram

import (
	"strings"
	"testing"
)

func TestChunkMessageShortPassthrough(t *testing.T) {
	got := chunkMessage("Hallo", 4096)
	if len(got) != 1 || got[0] != "Hallo" {
		t.Fatalf("got %v", got)
	}
	if chunkMessage("", 4096) != nil {
		t.Fatal("empty content should produce no chunks")
	}
}

func TestChunkMessageEllipsisRules(t *testing.T) {
	content := strings.Repeat("a", 10000)
	chunks := chunkMessage(content, 4096)

	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 4096 {
			t.Fatalf("chunk %d over limit: %d bytes", i, len(chunk))
		}
		last := i == len(chunks)-1
		if !last && !strings.HasSuffix(chunk, "…") {
			t.Fatalf("continued chunk %d lacks ellipsis", i)
		}
		if last && strings.HasSuffix(chunk, "…") {
			t.Fatal("final chunk ends with ellipsis")
		}
	}

	// Content survives the split (minus inserted ellipses).
	joined := strings.ReplaceAll(strings.Join(chunks, ""), "…", "")
	if joined != content {
		t.Fatal("chunking lost content")
	}
}

func TestChunkMessagePrefersNewlineCut(t *testing.T) {
	line := strings.Repeat("b", 3000)
	content := line + "\n" + strings.Repeat("c", 3000)
	chunks := chunkMessage(content, 4096)

	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if !strings.HasPrefix(chunks[1], "c") {
		t.Fatalf("second chunk should start at the newline cut, got %q...", chunks[1][:10])
	}
}

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("-100123456")
	if err != nil || id != -100123456 {
		t.Fatalf("parseChatID = %d, %v", id, err)
	}
	if _, err := parseChatID("nicht-numerisch"); err == nil {
		t.Fatal("invalid chat id accepted")
	}
}

func TestNormalizeUsername(t *testing.T) {
	cases := map[string]string{
		"@Alice":  "alice",
		" bob ":   "bob",
		"@@x":     "@x",
		"CHARLIE": "charlie",
	}
	for in, want := range cases {
		if got := normalizeUsername(in); got != want {
			t.Fatalf("normalizeUsername(%q) = %q, want %q", in, got, want)
		}
	}
}
