package toolbuilder

import (
	"strings"
	"testing"
)

func TestParseDraft(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"plain json", `{"tool_name":"x","code":"package main"}`, true},
		{"fenced json", "```json\n{\"tool_name\":\"x\",\"code\":\"package main\"}\n```", true},
		{"bare fence", "```\n{\"tool_name\":\"x\",\"code\":\"package main\"}\n```", true},
		{"missing code", `{"tool_name":"x"}`, false},
		{"not json", "hier ist dein werkzeug", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft, err := parseDraft(tc.in)
			if tc.ok != (err == nil) {
				t.Fatalf("err = %v", err)
			}
			if err == nil && draft.Code == "" {
				t.Fatal("empty code accepted")
			}
		})
	}
}

func TestToolNamePattern(t *testing.T) {
	valid := []string{"get_weather", "a2", "roll_dice_v2"}
	invalid := []string{"GetWeather", "2fast", "we-irdo", "", "a", strings.Repeat("x", 70)}

	for _, n := range valid {
		if !toolNamePattern.MatchString(n) {
			t.Fatalf("%q rejected", n)
		}
	}
	for _, n := range invalid {
		if toolNamePattern.MatchString(n) {
			t.Fatalf("%q accepted", n)
		}
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"no fences", "no fences"},
		{"```json\n{}\n```", "{}"},
		{"```\n[]\n```", "[]"},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Fatalf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("eins\nzwei"); got != "eins" {
		t.Fatalf("firstLine = %q", got)
	}
	if got := firstLine("nur eine"); got != "nur eine" {
		t.Fatalf("firstLine = %q", got)
	}
}
