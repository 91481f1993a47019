package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/opengunther/guenther/internal/bus"
)

type staticResolver map[string]string

func (r staticResolver) Lookup(username string) (string, bool) {
	id, ok := r[strings.ToLower(strings.TrimPrefix(username, "@"))]
	return id, ok
}

func TestSendTelegramByUsername(t *testing.T) {
	msgBus := bus.NewMessageBus()
	tool := NewSendTelegramTool(msgBus, staticResolver{"alice": "1001"})

	result := tool.Execute(context.Background(), map[string]interface{}{
		"recipient": "@alice",
		"message":   "Hallo!",
	})
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}

	out, ok := msgBus.SubscribeOutbound(context.Background())
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Channel != "telegram" || out.ChatID != "1001" || out.Content != "Hallo!" {
		t.Fatalf("outbound = %+v", out)
	}
}

func TestSendTelegramUnknownUsername(t *testing.T) {
	tool := NewSendTelegramTool(bus.NewMessageBus(), staticResolver{})
	result := tool.Execute(context.Background(), map[string]interface{}{
		"recipient": "@bob",
		"message":   "Hallo!",
	})
	if !result.IsError {
		t.Fatal("unknown username should error")
	}
}

func TestSendTelegramMissingArgs(t *testing.T) {
	tool := NewSendTelegramTool(bus.NewMessageBus(), nil)
	result := tool.Execute(context.Background(), map[string]interface{}{})
	if !result.IsError {
		t.Fatal("missing args should error")
	}
}

func TestGetCurrentTime(t *testing.T) {
	tool := NewGetCurrentTimeTool()

	result := tool.Execute(context.Background(), map[string]interface{}{"timezone": "UTC"})
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.ForLLM, `"timezone": "UTC"`) {
		t.Fatalf("payload = %q", result.ForLLM)
	}

	bad := tool.Execute(context.Background(), map[string]interface{}{"timezone": "Nirgendwo/Stadt"})
	if !bad.IsError {
		t.Fatal("unknown zone should error")
	}
}

func TestRollDiceBounds(t *testing.T) {
	tool := NewRollDiceTool()
	result := tool.Execute(context.Background(), map[string]interface{}{
		"count": float64(3),
		"sides": float64(6),
	})
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.ForLLM, `"sides": 6`) {
		t.Fatalf("payload = %q", result.ForLLM)
	}
}
