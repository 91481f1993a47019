package gateway

import (
	"strings"
	"testing"

	"github.com/opengunther/guenther/internal/config"
)

func TestMaskToken(t *testing.T) {
	token := "whk_0123456789abcdef0123456789abcdef"
	masked := maskToken(token)
	if strings.Contains(masked, token[6:len(token)-4]) {
		t.Fatalf("masked token leaks middle: %q", masked)
	}
	if !strings.HasPrefix(masked, "whk_01") || !strings.HasSuffix(masked, "cdef") {
		t.Fatalf("masked = %q", masked)
	}

	if maskToken("kurz") != secretMask {
		t.Fatal("short tokens must be fully masked")
	}
}

func TestMaskProviders(t *testing.T) {
	in := config.ProvidersConfig{
		"openrouter": {Name: "OpenRouter", APIKey: "sk-geheim"},
		"ollama":     {Name: "Ollama"},
	}
	out := maskProviders(in)
	if out["openrouter"].APIKey != secretMask {
		t.Fatalf("api key not masked: %q", out["openrouter"].APIKey)
	}
	if out["ollama"].APIKey != "" {
		t.Fatal("empty key should stay empty")
	}
	// Input must be untouched.
	if in["openrouter"].APIKey != "sk-geheim" {
		t.Fatal("maskProviders mutated its input")
	}
}

func TestRateLimiter(t *testing.T) {
	unlimited := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !unlimited.Allow() {
			t.Fatal("disabled limiter rejected a request")
		}
	}
	if unlimited.Enabled() {
		t.Fatal("rpm=0 limiter reports enabled")
	}

	limited := NewRateLimiter(60)
	if !limited.Enabled() {
		t.Fatal("rpm=60 limiter reports disabled")
	}
	allowed := 0
	for i := 0; i < 200; i++ {
		if limited.Allow() {
			allowed++
		}
	}
	if allowed == 0 || allowed == 200 {
		t.Fatalf("allowed = %d, expected the bucket to cap bursts", allowed)
	}
}
