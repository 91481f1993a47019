package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/providers"
	"github.com/opengunther/guenther/internal/sessions"
	"github.com/opengunther/guenther/internal/tools"
)

// scriptedProvider replays a fixed sequence of responses and records every
// request it sees.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	err       error
	requests  []providers.ChatRequest
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx], nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "fake" }

// fakeTool is a registry entry whose handler returns a canned Result.
type fakeTool struct {
	name   string
	result *tools.Result
	calls  []map[string]interface{}
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "test tool" }
func (t *fakeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *fakeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	t.calls = append(t.calls, args)
	return t.result
}

func newTestLoop(t *testing.T, provider providers.Provider, handlers ...tools.Handler) *Loop {
	t.Helper()

	cfg := config.Default()
	cfg.Default = "fake"
	cfg.Model = "test-model"

	reg := providers.NewRegistry()
	reg.Register("fake", provider)

	toolsReg := tools.NewRegistry()
	for _, h := range handlers {
		toolsReg.Register(tools.FromHandler(h, "builtin", false))
	}

	return NewLoop(LoopConfig{
		Providers: reg,
		Tools:     toolsReg,
		Sessions:  sessions.NewManager(""),
		Config:    cfg,
	})
}

func TestRunPureTextTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "Hi!", FinishReason: "stop"},
	}}
	loop := newTestLoop(t, provider)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "agent:default:test:direct:1",
		Message:    "Hallo",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "Hi!" {
		t.Fatalf("content = %q, want %q", result.Content, "Hi!")
	}
	if provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls)
	}
}

func TestRunSingleToolCall(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID:        "a",
				Name:      "get_current_time",
				Arguments: map[string]interface{}{"timezone": "UTC"},
			}},
		},
		{Content: "Es ist 12:00 UTC.", FinishReason: "stop"},
	}}
	tool := &fakeTool{name: "get_current_time", result: tools.NewResult(`{"time":"2024-01-01 12:00:00","timezone":"UTC"}`)}
	loop := newTestLoop(t, provider, tool)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "agent:default:test:direct:2",
		Message:    "Wie spät ist es in UTC?",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "Es ist 12:00 UTC." {
		t.Fatalf("content = %q", result.Content)
	}
	if len(tool.calls) != 1 {
		t.Fatalf("tool executed %d times, want 1", len(tool.calls))
	}
	if tz := tool.calls[0]["timezone"]; tz != "UTC" {
		t.Fatalf("tool arg timezone = %v", tz)
	}

	// The second provider call must carry the tool response with the
	// matching tool_call_id, directly after the assistant tool-call turn.
	second := provider.requests[1]
	var toolMsg *providers.Message
	for i := range second.Messages {
		if second.Messages[i].Role == "tool" {
			toolMsg = &second.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in second request")
	}
	if toolMsg.ToolCallID != "a" {
		t.Fatalf("tool_call_id = %q, want %q", toolMsg.ToolCallID, "a")
	}
}

func TestRunMediaInterception(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID:        "img1",
				Name:      "generate_image",
				Arguments: map[string]interface{}{},
			}},
		},
		{Content: "Bitteschön!", FinishReason: "stop"},
	}}
	tool := &fakeTool{name: "generate_image", result: &tools.Result{
		ForLLM: `{"image_base64":"QUJD"}`,
		Media:  &tools.MediaPayload{Kind: tools.MediaImage, Data: "QUJD", MIME: "image/png"},
		Extra:  map[string]interface{}{"width": 512, "height": 512},
	}}
	loop := newTestLoop(t, provider, tool)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "agent:default:test:direct:3",
		Message:    "Mal mir ein Bild",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "![Generiertes Bild](data:image/png;base64,QUJD)"
	if !strings.Contains(result.Content, want) {
		t.Fatalf("content missing media marker:\n%s", result.Content)
	}
	if !strings.HasPrefix(result.Content, "Bitteschön!") {
		t.Fatalf("content should start with the terminal text:\n%s", result.Content)
	}

	// The tool response forwarded to the provider must not contain the
	// blob, but must keep the data fields.
	second := provider.requests[1]
	var toolContent string
	for _, m := range second.Messages {
		if m.Role == "tool" {
			toolContent = m.Content
		}
	}
	if strings.Contains(toolContent, "QUJD") {
		t.Fatalf("blob leaked into tool response: %s", toolContent)
	}
	for _, field := range []string{"width", "height", "summary"} {
		if !strings.Contains(toolContent, field) {
			t.Fatalf("sanitized tool response missing %q: %s", field, toolContent)
		}
	}
}

func TestRunEmptyTerminalReplyStaysEmpty(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "", FinishReason: "stop"},
	}}
	loop := newTestLoop(t, provider)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "agent:default:test:direct:10",
		Message:    "…",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "" {
		t.Fatalf("content = %q, want empty string", result.Content)
	}
	if provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.calls)
	}
}

func TestRunLocalFileMediaMarker(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID:        "f1",
				Name:      "render_report",
				Arguments: map[string]interface{}{},
			}},
		},
		{Content: "Bericht liegt bereit.", FinishReason: "stop"},
	}}
	tool := &fakeTool{name: "render_report", result: &tools.Result{
		ForLLM: `{"local_file_path":"/tmp/bericht.pdf"}`,
		Media:  &tools.MediaPayload{Kind: tools.MediaLocalFile, Data: "/tmp/bericht.pdf"},
	}}
	loop := newTestLoop(t, provider, tool)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "agent:default:test:direct:11",
		Message:    "erstelle den Bericht",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(result.Content, "[LOCAL_FILE](/tmp/bericht.pdf)") {
		t.Fatalf("content missing local-file marker:\n%s", result.Content)
	}

	// The path must not reach the provider as part of the tool response.
	second := provider.requests[1]
	for _, m := range second.Messages {
		if m.Role == "tool" && strings.Contains(m.Content, "/tmp/bericht.pdf") {
			t.Fatalf("local path leaked into tool response: %s", m.Content)
		}
	}
}

func TestRunIterationBudget(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID:        "d",
				Name:      "roll_dice",
				Arguments: map[string]interface{}{},
			}},
		},
	}}
	tool := &fakeTool{name: "roll_dice", result: tools.NewResult(`{"rolls":[4]}`)}
	loop := newTestLoop(t, provider, tool)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "agent:default:test:direct:4",
		Message:    "Würfle bis zum Umfallen",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.calls != MaxIterations {
		t.Fatalf("provider calls = %d, want %d", provider.calls, MaxIterations)
	}
	if !strings.Contains(result.Content, "Maximale Iterationen erreicht") {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestRunUnknownToolDoesNotAbort(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID:        "x",
				Name:      "no_such_tool",
				Arguments: map[string]interface{}{},
			}},
		},
		{Content: "Ok.", FinishReason: "stop"},
	}}
	loop := newTestLoop(t, provider)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "agent:default:test:direct:5",
		Message:    "nutze das Geisterwerkzeug",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "Ok." {
		t.Fatalf("content = %q", result.Content)
	}

	second := provider.requests[1]
	var toolContent string
	for _, m := range second.Messages {
		if m.Role == "tool" {
			toolContent = m.Content
		}
	}
	if !strings.Contains(toolContent, "nicht gefunden") {
		t.Fatalf("tool error message = %q", toolContent)
	}
}

func TestRunProviderErrorReturnsCleanly(t *testing.T) {
	provider := &scriptedProvider{err: context.DeadlineExceeded}
	loop := newTestLoop(t, provider)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "agent:default:test:direct:6",
		Message:    "Hallo",
	})
	if err != nil {
		t.Fatalf("Run should not propagate provider errors, got %v", err)
	}
	if !strings.HasPrefix(result.Content, "Fehler") {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestRunStripsEmbeddedMediaFromHistory(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "Weiter geht's.", FinishReason: "stop"},
	}}
	loop := newTestLoop(t, provider)

	key := "agent:default:test:direct:7"
	loop.sessions.AddMessage(key, providers.Message{Role: "user", Content: "zeig mir was"})
	loop.sessions.AddMessage(key, providers.Message{
		Role:    "assistant",
		Content: "Hier: ![Generiertes Bild](data:image/png;base64,AAAA)",
	})

	if _, err := loop.Run(context.Background(), RunRequest{SessionKey: key, Message: "und nun?"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, m := range provider.requests[0].Messages {
		if m.Role == "assistant" && strings.Contains(m.Content, "data:image") {
			t.Fatalf("history assistant message still carries data URI: %q", m.Content)
		}
	}
}

func TestCloseBannerAlwaysEmitted(t *testing.T) {
	provider := &scriptedProvider{err: context.DeadlineExceeded}
	loop := newTestLoop(t, provider)

	var lines []string
	_, _ = loop.Run(context.Background(), RunRequest{
		SessionKey: "agent:default:test:direct:8",
		Message:    "Hallo",
		EmitLog:    func(line string) { lines = append(lines, line) },
	})
	found := false
	for _, l := range lines {
		if l == "GUENTHER AGENT BEENDET" {
			found = true
		}
	}
	if !found {
		t.Fatalf("closing banner missing from log lines: %v", lines)
	}
}
