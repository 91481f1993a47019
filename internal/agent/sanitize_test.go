package agent

import "testing"

func TestSanitizeStripsReasoningBlocks(t *testing.T) {
	cases := []struct{ name, in, want string }{
		{"closed tag", "<think>erst nachdenken</think>Hallo!", "Hallo!"},
		{"truncated tag", "Hallo!<thinking>abgeschnitten", "Hallo!"},
		{"only reasoning", "<reasoning>nur das</reasoning>", ""},
		{"mixed case", "<Think>x</Think>Antwort", "Antwort"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeAssistantContent(tc.in); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSanitizeStripsLeakedToolCalls(t *testing.T) {
	cases := []struct{ name, in, want string }{
		{"xml wrapper", "Ergebnis:\n<tool_call>{\"name\":\"x\"}</tool_call>\nFertig.", "Ergebnis:\n\nFertig."},
		{"bracket transcript", "[Tool Call: get_time]\nEs ist Mittag.", "Es ist Mittag."},
		{"unterminated", "Moment <function_call>{\"na", "Moment"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeAssistantContent(tc.in); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSanitizeStripsEchoedSystemHeader(t *testing.T) {
	in := "[System Message] Du bist Günther.\nHallo, wie kann ich helfen?"
	want := "Hallo, wie kann ich helfen?"
	if got := SanitizeAssistantContent(in); got != want {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeCollapsesRepeatedParagraphs(t *testing.T) {
	in := "Das ist die Antwort.\n\nDas ist die Antwort.\n\nDas ist die Antwort.\n\nUnd ein Nachsatz."
	want := "Das ist die Antwort.\n\nUnd ein Nachsatz."
	if got := SanitizeAssistantContent(in); got != want {
		t.Fatalf("got %q", got)
	}

	// Non-adjacent repeats are intentional emphasis, not a loop.
	keep := "Ja.\n\nWirklich?\n\nJa."
	if got := SanitizeAssistantContent(keep); got != keep {
		t.Fatalf("non-adjacent repeat altered: %q", got)
	}
}

func TestSanitizeLeavesCleanContentAlone(t *testing.T) {
	in := "Ganz normale Antwort mit <b>Markup</b> und Code:\n\n```go\nfmt.Println(1)\n```"
	if got := SanitizeAssistantContent(in); got != in {
		t.Fatalf("clean content altered: %q", got)
	}
}
