package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opengunther/guenther/internal/agent"
	"github.com/opengunther/guenther/internal/bus"
	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/sessions"
	"github.com/opengunther/guenther/internal/store"
)

// consumeInboundMessages is the channel → agent → channel dispatch loop.
// Each message runs in its own goroutine so one slow provider call never
// blocks the other channels' traffic.
func consumeInboundMessages(ctx context.Context, msgBus *bus.MessageBus, loop *agent.Loop, cfg *config.Config, sessionMgr *sessions.Manager, usage store.UsageStore) {
	slog.Info("inbound message consumer started")

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go handleInbound(ctx, msgBus, loop, cfg, sessionMgr, usage, msg)
	}
}

func handleInbound(ctx context.Context, msgBus *bus.MessageBus, loop *agent.Loop, cfg *config.Config, sessionMgr *sessions.Manager, usage store.UsageStore, msg bus.InboundMessage) {
	agentID := msg.AgentID
	if agentID == "" {
		agentID = cfg.ResolveDefaultAgentID()
	}
	peerKind := msg.PeerKind
	if peerKind == "" {
		peerKind = string(sessions.PeerDirect)
	}
	sessionKey := sessions.BuildSessionKey(agentID, msg.Channel, sessions.PeerKind(peerKind), msg.ChatID)

	// "/new [title]" resets the conversation without an agent turn.
	if msg.Metadata["command"] == "new" {
		sessionMgr.Reset(sessionKey)
		if title := msg.Metadata["title"]; title != "" {
			sessionMgr.SetLabel(sessionKey, title)
		}
		_ = sessionMgr.Save(sessionKey)
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Content:  "Neue Unterhaltung gestartet.",
			Metadata: msg.Metadata,
		})
		return
	}

	result, err := loop.Run(ctx, agent.RunRequest{
		SessionKey: sessionKey,
		Message:    msg.Content,
		Media:      msg.Media,
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		PeerKind:   peerKind,
		AgentID:    agentID,
		// Every operator-facing log line fans out to WS subscribers
		// (the browser terminal view) tagged with its session.
		EmitLog: func(line string) {
			msgBus.Broadcast(bus.Event{Name: "agent", Payload: map[string]string{
				"type":    "log",
				"session": sessionKey,
				"line":    line,
			}})
		},
	})
	if err != nil {
		slog.Error("inbound: agent run failed", "channel", msg.Channel, "error", err)
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Content:  "Fehler: " + err.Error(),
			Metadata: msg.Metadata,
		})
		return
	}

	if usage != nil && result.Usage != nil {
		if err := usage.Log(store.UsageLogEntry{
			ChatID:       msg.ChatID,
			AgentID:      agentID,
			Provider:     result.Provider,
			Model:        result.Model,
			InputTokens:  int64(result.Usage.PromptTokens),
			OutputTokens: int64(result.Usage.CompletionTokens),
		}); err != nil {
			slog.Warn("usage log write failed", "error", err)
		}
	}

	text, attachments := splitStoredFiles(result.Content, loop.Files())

	msgBus.PublishOutbound(bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  text,
		Media:    attachments,
		Metadata: msg.Metadata,
	})
}

var storedFileRe = regexp.MustCompile(`\[STORED_FILE\]\(([^)]+)\)`)

// splitStoredFiles separates a reply into plain text and typed uploads.
// Each referenced stored file is staged as a temp copy, since the channel
// manager deletes attachment files after sending.
func splitStoredFiles(content string, fs store.FileStore) (string, []bus.MediaAttachment) {
	if fs == nil {
		return content, nil
	}

	var attachments []bus.MediaAttachment
	text := storedFileRe.ReplaceAllStringFunc(content, func(m string) string {
		name := storedFileRe.FindStringSubmatch(m)[1]
		staged, err := stageCopy(fs, name)
		if err != nil {
			slog.Warn("could not stage stored file for send", "name", name, "error", err)
			return m
		}
		attachments = append(attachments, bus.MediaAttachment{
			URL:         staged,
			ContentType: mime.TypeByExtension(filepath.Ext(name)),
		})
		return ""
	})
	return strings.TrimSpace(text), attachments
}

func stageCopy(fs store.FileStore, name string) (string, error) {
	data, err := fs.Get(name)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "outbound-*"+filepath.Ext(name))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// makeChatFilesHandler serves GET /api/chats/<id>/files/<name> from the
// file store, the fetch side of the [STORED_FILE] contract.
func makeChatFilesHandler(fs store.FileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/chats/"), "/"), "/")
		if len(parts) != 3 || parts[1] != "files" {
			http.NotFound(w, r)
			return
		}
		name := parts[2]
		data, err := fs.Get(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
		_, _ = w.Write(data)
	}
}
