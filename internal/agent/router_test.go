package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/opengunther/guenther/internal/providers"
	"github.com/opengunther/guenther/internal/tools"
)

func descriptors(names ...string) []*tools.Descriptor {
	out := make([]*tools.Descriptor, len(names))
	for i, n := range names {
		out[i] = &tools.Descriptor{Name: n, Description: "tool " + n}
	}
	return out
}

func noopLog(string, ...interface{}) {}

func TestRouteToolsSkipsSmallSets(t *testing.T) {
	provider := &scriptedProvider{err: fmt.Errorf("must not be called")}
	all := descriptors("a", "b", "c")

	got := routeTools(context.Background(), provider, "m", all, "hallo", noopLog)
	if len(got) != 3 {
		t.Fatalf("got %d tools, want 3", len(got))
	}
	if provider.calls != 0 {
		t.Fatalf("router called the provider for a small tool set")
	}
}

func TestRouteToolsFiltersToSubset(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: `["b","d"]`, FinishReason: "stop"},
	}}
	all := descriptors("a", "b", "c", "d")

	got := routeTools(context.Background(), provider, "m", all, "hallo", noopLog)
	if len(got) != 2 || got[0].Name != "b" || got[1].Name != "d" {
		t.Fatalf("got %v", names(got))
	}
}

func TestRouteToolsFallsBackOnErrors(t *testing.T) {
	all := descriptors("a", "b", "c", "d")

	cases := []struct {
		name     string
		provider *scriptedProvider
	}{
		{"provider error", &scriptedProvider{err: fmt.Errorf("boom")}},
		{"unparsable reply", &scriptedProvider{responses: []*providers.ChatResponse{{Content: "keine Liste"}}}},
		{"hallucinated names", &scriptedProvider{responses: []*providers.ChatResponse{{Content: `["zz","yy"]`}}}},
		{"empty array", &scriptedProvider{responses: []*providers.ChatResponse{{Content: `[]`}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := routeTools(context.Background(), tc.provider, "m", all, "hallo", noopLog)
			if len(got) != len(all) {
				t.Fatalf("got %d tools, want fallback to all %d", len(got), len(all))
			}
		})
	}
}

func TestParseRouterReply(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{`["a","b"]`, 2, true},
		{"```json\n[\"a\"]\n```", 1, true},
		{"```\n[\"a\", \"b\", \"c\"]\n```", 3, true},
		{`Hier sind die Werkzeuge: ["a"] danke`, 1, true},
		{`kein json`, 0, false},
	}
	for _, tc := range cases {
		got, err := parseRouterReply(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("parseRouterReply(%q) err = %v", tc.in, err)
		}
		if err == nil && len(got) != tc.want {
			t.Fatalf("parseRouterReply(%q) = %v, want %d names", tc.in, got, tc.want)
		}
	}
}

func names(descs []*tools.Descriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}
