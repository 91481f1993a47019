package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opengunther/guenther/internal/agent"
	"github.com/opengunther/guenther/internal/bus"
	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/sessions"
	"github.com/opengunther/guenther/internal/store"
)

// makeAutopromptRunFunc adapts the agent loop into the scheduler.RunFunc
// contract: replay an autoprompt record's stored prompt through one agent
// turn, persisting the exchange to its chat when save_to_chat is set.
func makeAutopromptRunFunc(loop *agent.Loop, msgBus *bus.MessageBus, cfg *config.Config, chats store.ChatStore) func(ctx context.Context, record config.AutopromptConfig) (string, error) {
	return func(ctx context.Context, record config.AutopromptConfig) (string, error) {
		agentID := record.AgentID
		if agentID == "" {
			agentID = cfg.ResolveDefaultAgentID()
		}

		chatID := record.ChatID
		if record.SaveToChat {
			chatID = ensureAutopromptChat(cfg, chats, record)
		}

		sessionKey := sessions.BuildCronSessionKey(agentID, record.ID, uuid.NewString())

		result, err := loop.Run(ctx, agent.RunRequest{
			SessionKey: sessionKey,
			Message:    record.Prompt,
			Channel:    "autoprompt",
			ChatID:     chatID,
			AgentID:    agentID,
		})
		if err != nil {
			return "", err
		}

		if record.SaveToChat && chatID != "" && chats != nil {
			if err := chats.AddMessage(chatID, "user", record.Prompt); err != nil {
				slog.Warn("autoprompt: could not persist user message", "chat", chatID, "error", err)
			}
			if err := chats.AddMessage(chatID, "assistant", result.Content); err != nil {
				slog.Warn("autoprompt: could not persist assistant message", "chat", chatID, "error", err)
			}
		}

		if chatID != "" {
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: "autoprompt",
				ChatID:  chatID,
				Content: result.Content,
			})
		}

		return result.Content, nil
	}
}

// ensureAutopromptChat returns the record's chat id, creating a fresh
// "Autoprompt: <name>" chat when none exists or the stored one was
// deleted, and writing the new id back into the config record.
func ensureAutopromptChat(cfg *config.Config, chats store.ChatStore, record config.AutopromptConfig) string {
	if chats == nil {
		return record.ChatID
	}
	if record.ChatID != "" {
		if _, err := chats.GetChat(record.ChatID); err == nil {
			return record.ChatID
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("autoprompt: chat lookup failed", "chat", record.ChatID, "error", err)
			return record.ChatID
		}
	}

	chatID, err := chats.CreateChat("Autoprompt: "+record.Name, record.AgentID)
	if err != nil {
		slog.Warn("autoprompt: could not create chat", "name", record.Name, "error", err)
		return ""
	}

	cfg.Lock()
	for i := range cfg.Autoprompts {
		if cfg.Autoprompts[i].ID == record.ID {
			cfg.Autoprompts[i].ChatID = chatID
			break
		}
	}
	cfg.Unlock()
	return chatID
}
