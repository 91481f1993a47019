// Package gateway exposes the agent runtime over a WebSocket RPC connection
// and a small OpenAI-compatible HTTP surface, both fronting the single
// shared *agent.Loop.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/opengunther/guenther/internal/agent"
	"github.com/opengunther/guenther/internal/bus"
	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/sessions"
	"github.com/opengunther/guenther/internal/tools"
	"github.com/opengunther/guenther/pkg/protocol"
)

// Server is the gateway: one WebSocket endpoint for RPC/event streaming, one
// /health endpoint, and an OpenAI-compatible /v1/chat/completions endpoint,
// all driven by a single shared agent.Loop.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	loop     *agent.Loop
	sessions *sessions.Manager
	tools    *tools.Registry

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	deps        Deps

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server. sess and toolsReg may be nil.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, loop *agent.Loop, sess *sessions.Manager, toolsReg *tools.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		loop:     loop,
		sessions: sess,
		tools:    toolsReg,
		clients:  make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM)
	return s
}

// checkOrigin validates a WebSocket upgrade's Origin header against the
// configured allowlist. No configured origins, or no Origin header at all
// (CLI/SDK/channel clients never set one), both mean "allow".
func (s *Server) checkOrigin(r *http.Request) bool {
	s.cfg.RLock()
	allowed := s.cfg.Gateway.AllowedOrigins
	s.cfg.RUnlock()
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway.cors_rejected", "origin", origin)
	return false
}

// Mux returns the server's HTTP mux, building it on first call so callers
// (e.g. to mount the webhook dispatcher at /webhook/) can extend it before
// Start binds a listener.
func (s *Server) Mux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/v1/chat/completions", s.rateLimited(http.HandlerFunc(s.handleChatCompletions)))
	s.mux = mux
	return mux
}

// Start binds cfg.Gateway.Host:Port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.Mux()

	s.cfg.RLock()
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.cfg.RUnlock()

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	slog.Info("gateway.start", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// rateLimited wraps h with the gateway-wide token bucket, when configured.
func (s *Server) rateLimited(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter != nil && !s.rateLimiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// chatCompletionRequest is the minimal OpenAI chat-completions request shape
// this gateway accepts: a single user message routed to one agent turn
// (non-streaming only).
type chatCompletionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	AgentID string `json:"agent_id,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

type chatCompletionResponse struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Created int64                    `json:"created"`
	Model   string                   `json:"model"`
	Choices []chatCompletionChoice   `json:"choices"`
	Usage   *chatCompletionUsageInfo `json:"usage,omitempty"`
}

type chatCompletionChoice struct {
	Index        int                       `json:"index"`
	Message      chatCompletionChoiceMsg   `json:"message"`
	FinishReason string                    `json:"finish_reason"`
}

type chatCompletionChoiceMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionUsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var lastUser string
	for _, m := range req.Messages {
		if m.Role == "user" {
			lastUser = m.Content
		}
	}
	if lastUser == "" {
		http.Error(w, "bad request: no user message", http.StatusBadRequest)
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = s.cfg.ResolveDefaultAgentID()
	}
	chatID := req.ChatID
	if chatID == "" {
		chatID = "http"
	}
	sessionKey := sessions.BuildSessionKey(agentID, "http", sessions.PeerDirect, chatID)

	result, err := s.loop.Run(r.Context(), agent.RunRequest{
		SessionKey: sessionKey,
		Message:    lastUser,
		Channel:    "http",
		ChatID:     chatID,
		PeerKind:   string(sessions.PeerDirect),
		AgentID:    agentID,
	})
	if err != nil {
		slog.Error("gateway.chat_completions_failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := chatCompletionResponse{
		ID:      "chatcmpl-" + sessionKey,
		Object:  "chat.completion",
		Model:   result.Model,
		Choices: []chatCompletionChoice{{Message: chatCompletionChoiceMsg{Role: "assistant", Content: result.Content}, FinishReason: "stop"}},
	}
	if result.Usage != nil {
		resp.Usage = &chatCompletionUsageInfo{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// authorized checks the gateway bearer token, when one is configured.
func (s *Server) authorized(r *http.Request) bool {
	s.cfg.RLock()
	token := s.cfg.Gateway.Token
	s.cfg.RUnlock()
	if token == "" {
		return true
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") == token
}

// handleWebSocket upgrades the connection and hands it to a Client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway.ws_upgrade_failed", "error", err)
		return
	}

	client := newClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.close()
	}()

	client.run(r.Context())
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if strings.HasPrefix(event.Name, "cache.") {
			return
		}
		c.sendEvent(protocol.NewEvent(event.Name, event.Payload))
	})
	slog.Info("gateway.client_connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.eventPub.Unsubscribe(c.id)
	slog.Info("gateway.client_disconnected", "id", c.id)
}

// RateLimiter exposes the gateway's shared token bucket.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// statusSnapshot answers the "status" RPC method with a cheap summary.
func (s *Server) statusSnapshot() map[string]interface{} {
	s.mu.RLock()
	clients := len(s.clients)
	s.mu.RUnlock()

	s.cfg.RLock()
	agents := len(s.cfg.Agents)
	s.cfg.RUnlock()

	return map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"clients":  clients,
		"agents":   agents,
	}
}

// RateLimiter wraps golang.org/x/time/rate as a simple requests-per-minute
// gate on /v1/chat/completions, one bucket shared by every caller (the
// gateway is single tenant, so one bucket rather than one per client is
// sufficient). WebSocket traffic is not limited.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter from an RPM budget. rpm <= 0 disables
// limiting entirely (Allow always returns true).
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{}
	}
	perSecond := float64(rpm) / 60.0
	burst := rpm
	if burst > 60 {
		burst = 60
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether the caller may proceed right now.
func (r *RateLimiter) Allow() bool {
	if r == nil || r.limiter == nil {
		return true
	}
	return r.limiter.Allow()
}

// Enabled reports whether a limit is actually configured.
func (r *RateLimiter) Enabled() bool {
	return r != nil && r.limiter != nil
}
