package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIChatParsesContentAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth = %q", auth)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "test-model" {
			t.Errorf("model = %v", body["model"])
		}
		io.WriteString(w, `{
			"choices":[{"message":{"content":"Hallo!"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("testhost", "sk-test", srv.URL, "test-model")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hallo"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Hallo!" || resp.FinishReason != "stop" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 3 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestOpenAIChatParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"choices":[{"message":{"tool_calls":[
				{"id":"a","function":{"name":"get_current_time","arguments":"{\"timezone\":\"UTC\"}"}}
			]},"finish_reason":"tool_calls"}]
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("testhost", "sk", srv.URL, "m")
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "?"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "a" || tc.Name != "get_current_time" || tc.Arguments["timezone"] != "UTC" {
		t.Fatalf("tool call = %+v", tc)
	}
}

func TestOpenAIChatUnwrapsErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("testhost", "sk", srv.URL, "m")
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("error not unwrapped: %v", err)
	}
	if strings.Contains(err.Error(), `{"error"`) {
		t.Fatalf("raw JSON leaked into error: %v", err)
	}
}

func TestOpenAIEffectiveModel(t *testing.T) {
	or := NewOpenAIProvider("openrouter", "sk", "https://x", "openai/gpt-4o-mini")
	if got := or.effectiveModel(""); got != "openai/gpt-4o-mini" {
		t.Fatalf("empty model → %q", got)
	}
	if got := or.effectiveModel("gpt-4o"); got != "openai/gpt-4o-mini" {
		t.Fatalf("unprefixed model on openrouter → %q", got)
	}
	if got := or.effectiveModel("mistralai/mistral-small"); got != "mistralai/mistral-small" {
		t.Fatalf("prefixed model → %q", got)
	}

	plain := NewOpenAIProvider("ollama", "", "http://localhost:11434/v1", "llama3.1")
	if got := plain.effectiveModel("qwen3"); got != "qwen3" {
		t.Fatalf("non-openrouter model rewritten: %q", got)
	}
}

func TestUnwrapAPIError(t *testing.T) {
	if got := unwrapAPIError([]byte(`{"error":{"message":"rate limited"}}`)); got != "rate limited" {
		t.Fatalf("got %q", got)
	}
	if got := unwrapAPIError([]byte(`not json at all`)); got != "not json at all" {
		t.Fatalf("got %q", got)
	}
}

func TestAnthropicChatParsesBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "sk-ant" {
			t.Errorf("x-api-key = %q", key)
		}
		io.WriteString(w, `{
			"content":[
				{"type":"text","text":"Ich schaue nach."},
				{"type":"tool_use","id":"tu1","name":"web_search","input":{"query":"wetter"}}
			],
			"stop_reason":"tool_use",
			"usage":{"input_tokens":30,"output_tokens":9}
		}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-ant", WithAnthropicBaseURL(srv.URL), WithAnthropicModel("claude-test"))
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "Wetter?"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Ich schaue nach." {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ToolCalls[0].Name != "web_search" || resp.ToolCalls[0].Arguments["query"] != "wetter" {
		t.Fatalf("tool call = %+v", resp.ToolCalls[0])
	}
	if resp.Usage.TotalTokens != 39 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if len(resp.RawAssistantContent) == 0 {
		t.Fatal("raw content blocks not preserved for tool passback")
	}
}

func TestDropUnsignedToolCycles(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "frag das werkzeug"},
		{Role: "assistant", Content: "Moment.", ToolCalls: []ToolCall{{ID: "t1", Name: "x"}}}, // unsigned
		{Role: "tool", ToolCallID: "t1", Content: `{"ok":true}`},
		{Role: "assistant", Content: "Fertig."},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "t2", Name: "y", Metadata: map[string]string{"thought_signature": "sig"}}}},
		{Role: "tool", ToolCallID: "t2", Content: `{}`},
	}

	got := dropUnsignedToolCycles(msgs)

	for _, m := range got {
		for _, tc := range m.ToolCalls {
			if tc.ID == "t1" {
				t.Fatal("unsigned tool call survived")
			}
		}
		if m.Role == "tool" && m.ToolCallID == "t1" {
			t.Fatal("orphaned tool result survived")
		}
	}

	// The unsigned turn's visible text and the signed cycle must remain.
	var sawMoment, sawSigned bool
	for _, m := range got {
		if m.Role == "assistant" && m.Content == "Moment." && len(m.ToolCalls) == 0 {
			sawMoment = true
		}
		if len(m.ToolCalls) == 1 && m.ToolCalls[0].ID == "t2" {
			sawSigned = true
		}
	}
	if !sawMoment || !sawSigned {
		t.Fatalf("folded history wrong: %+v", got)
	}
}

func TestEmbeddingsReorderedByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		// Deliberately out of order.
		io.WriteString(w, `{"data":[
			{"index":1,"embedding":[2.0]},
			{"index":0,"embedding":[1.0]}
		]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("testhost", "sk", srv.URL, "embed-model")
	vecs, err := p.Embeddings(context.Background(), "", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1.0 || vecs[1][0] != 2.0 {
		t.Fatalf("vectors not reordered: %v", vecs)
	}
}
