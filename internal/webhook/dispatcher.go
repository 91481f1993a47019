// Package webhook exposes each configured Webhook as an HTTP
// endpoint that triggers one agent turn and returns its reply synchronously.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opengunther/guenther/internal/agent"
	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/sessions"
	"github.com/opengunther/guenther/internal/store"
)

// maxBodyBytes bounds the size of a webhook request body.
const maxBodyBytes = 64 * 1024

// Runner is the subset of *agent.Loop the dispatcher needs, narrowed so this
// package stays testable without constructing a full Loop.
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// Dispatcher serves POST /webhook/<id> requests. Each id maps to a
// config.WebhookConfig holding the bearer token and target agent/chat.
type Dispatcher struct {
	cfg   *config.Config
	loop  Runner
	chats store.ChatStore
}

// New creates a Dispatcher reading webhook definitions from cfg.Webhooks.
// chats may be nil; bound chats then receive no transcript.
func New(cfg *config.Config, loop Runner, chats store.ChatStore) *Dispatcher {
	return &Dispatcher{cfg: cfg, loop: loop, chats: chats}
}

type inboundPayload struct {
	Message string `json:"message"`
}

type outboundPayload struct {
	ChatID   string `json:"chat_id,omitempty"`
	Response string `json:"response"`
}

// ServeHTTP implements http.Handler, routing by the trailing path segment
// after "/webhook/".
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/webhook/")
	id = strings.Trim(id, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	hook, ok := d.lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if !authorized(r, hook.Token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		http.Error(w, "request body too large", http.StatusBadRequest)
		return
	}

	message, err := parseMessage(body, r.Header.Get("Content-Type"))
	if err != nil || message == "" {
		http.Error(w, "bad request: message required", http.StatusBadRequest)
		return
	}

	agentID := hook.AgentID
	if agentID == "" {
		agentID = d.cfg.ResolveDefaultAgentID()
	}
	sessionKey := sessions.BuildSessionKey(agentID, "webhook", sessions.PeerDirect, hook.ID)

	result, err := d.loop.Run(r.Context(), agent.RunRequest{
		SessionKey: sessionKey,
		Message:    message,
		Channel:    "webhook",
		ChatID:     hook.ChatID,
		PeerKind:   string(sessions.PeerDirect),
		AgentID:    agentID,
	})
	if err != nil {
		slog.Error("webhook run failed", "webhook_id", hook.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if d.chats != nil && hook.ChatID != "" {
		if err := d.chats.AddMessage(hook.ChatID, "user", message); err != nil {
			slog.Warn("webhook: could not persist user message", "chat", hook.ChatID, "error", err)
		} else if err := d.chats.AddMessage(hook.ChatID, "assistant", result.Content); err != nil {
			slog.Warn("webhook: could not persist assistant message", "chat", hook.ChatID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(outboundPayload{ChatID: hook.ChatID, Response: result.Content})
}

func (d *Dispatcher) lookup(id string) (config.WebhookConfig, bool) {
	d.cfg.RLock()
	defer d.cfg.RUnlock()
	for _, h := range d.cfg.Webhooks {
		if h.ID == id {
			return h, true
		}
	}
	return config.WebhookConfig{}, false
}

// authorized compares the request's bearer token against want using a
// constant-time comparison so a wrong-length or near-miss guess can't be
// distinguished from a correct one by response timing.
func authorized(r *http.Request, want string) bool {
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if got == r.Header.Get("Authorization") {
		// No "Bearer " prefix present at all.
		got = ""
	}
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func parseMessage(body []byte, contentType string) (string, error) {
	if strings.Contains(contentType, "application/json") {
		var p inboundPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return "", err
		}
		return p.Message, nil
	}
	return strings.TrimSpace(string(body)), nil
}
