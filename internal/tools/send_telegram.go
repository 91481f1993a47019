package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/opengunther/guenther/internal/bus"
)

// UserResolver resolves a @username to a channel-native chat id. The
// Telegram channel's persisted user directory implements it.
type UserResolver interface {
	Lookup(username string) (string, bool)
}

// SendTelegramTool lets the agent push a message to a Telegram user by
// @username or raw chat id, outside the current conversation.
type SendTelegramTool struct {
	bus   *bus.MessageBus
	users UserResolver
}

// NewSendTelegramTool wires the tool to the outbound bus and the username
// directory. users may be nil; then only raw chat ids work.
func NewSendTelegramTool(msgBus *bus.MessageBus, users UserResolver) *SendTelegramTool {
	return &SendTelegramTool{bus: msgBus, users: users}
}

func (t *SendTelegramTool) Name() string { return "send_telegram" }

func (t *SendTelegramTool) Description() string {
	return "Sendet eine Telegram-Nachricht an einen Nutzer (@username) oder eine Chat-ID."
}

func (t *SendTelegramTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"recipient": map[string]interface{}{
				"type":        "string",
				"description": "Empfänger: @username oder numerische Chat-ID.",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Der Nachrichtentext.",
			},
		},
		"required": []string{"recipient", "message"},
	}
}

func (t *SendTelegramTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	recipient, _ := args["recipient"].(string)
	message, _ := args["message"].(string)
	if strings.TrimSpace(recipient) == "" || strings.TrimSpace(message) == "" {
		return ErrorResult("recipient und message sind erforderlich")
	}

	chatID := recipient
	if strings.HasPrefix(recipient, "@") {
		if t.users == nil {
			return ErrorResult("kein Nutzerverzeichnis verfügbar, bitte Chat-ID verwenden")
		}
		resolved, ok := t.users.Lookup(recipient)
		if !ok {
			return ErrorResult(fmt.Sprintf("Nutzer %s ist nicht bekannt (hat noch nie geschrieben)", recipient))
		}
		chatID = resolved
	}

	t.bus.PublishOutbound(bus.OutboundMessage{
		Channel: "telegram",
		ChatID:  chatID,
		Content: message,
	})
	return NewResult(fmt.Sprintf(`{"success": true, "recipient": %q}`, recipient))
}
