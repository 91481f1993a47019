package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opengunther/guenther/internal/agent"
	"github.com/opengunther/guenther/internal/bus"
	"github.com/opengunther/guenther/internal/sessions"
	"github.com/opengunther/guenther/pkg/protocol"
)

// pongWait/pingInterval keep a WS connection alive through idle NAT/proxy
// timeouts; pingInterval must stay comfortably under pongWait.
const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Client is one connected WebSocket RPC peer. Writes (both RPC responses and
// broadcast events) are serialized through writeMu since gorilla/websocket
// forbids concurrent writers on the same connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	writeMu sync.Mutex
}

func newClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{id: uuid.NewString(), conn: conn, server: s}
}

func (c *Client) close() {
	_ = c.conn.Close()
}

// run reads RPC requests until the connection closes or ctx ends, answering
// each one in turn. A ping ticker runs alongside to detect dead peers.
func (c *Client) run(ctx context.Context) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go c.pingLoop(ctx, done)
	defer close(done)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.writeJSON(protocol.NewErrorResponse("", 400, "malformed request"))
			continue
		}

		resp := c.dispatch(ctx, req)
		c.writeJSON(resp)
	}
}

func (c *Client) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) writeJSON(v interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		slog.Debug("gateway.client_write_failed", "id", c.id, "error", err)
	}
}

func (c *Client) sendEvent(evt *protocol.EventFrame) {
	c.writeJSON(evt)
}

// dispatch routes one RPC request to its handler (protocol.Method*
// constants), answering unknown methods with an error response rather than
// closing the connection.
func (c *Client) dispatch(ctx context.Context, req protocol.Request) *protocol.Response {
	switch req.Method {
	case protocol.MethodConnect:
		return protocol.NewResultResponse(req.ID, map[string]interface{}{"protocol": protocol.ProtocolVersion, "client_id": c.id})

	case protocol.MethodHealth, protocol.MethodHeartbeat:
		return protocol.NewResultResponse(req.ID, map[string]interface{}{"status": "ok"})

	case protocol.MethodStatus:
		return protocol.NewResultResponse(req.ID, c.server.statusSnapshot())

	case protocol.MethodChatSend:
		return c.handleChatSend(ctx, req)

	case protocol.MethodChatHistory:
		return c.handleChatHistory(req)

	case protocol.MethodSessionsList:
		return c.handleSessionsList(req)

	case protocol.MethodSessionsReset:
		return c.handleSessionsReset(req)

	case protocol.MethodSessionsDelete:
		return c.handleSessionsDelete(req)

	default:
		if resp := c.dispatchSettings(ctx, req); resp != nil {
			return resp
		}
		return protocol.NewErrorResponse(req.ID, 404, "unknown method: "+req.Method)
	}
}

type chatSendParams struct {
	AgentID string   `json:"agentId,omitempty"`
	ChatID  string   `json:"chatId"`
	Message string   `json:"message"`
	Media   []string `json:"media,omitempty"`
}

func (c *Client) handleChatSend(ctx context.Context, req protocol.Request) *protocol.Response {
	if c.server.loop == nil {
		return protocol.NewErrorResponse(req.ID, 503, "agent loop unavailable")
	}

	var p chatSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Message == "" {
		return protocol.NewErrorResponse(req.ID, 400, "message required")
	}

	agentID := p.AgentID
	if agentID == "" {
		agentID = c.server.cfg.ResolveDefaultAgentID()
	}
	chatID := p.ChatID
	if chatID == "" {
		chatID = c.id
	}
	sessionKey := sessions.BuildSessionKey(agentID, "ws", sessions.PeerDirect, chatID)

	result, err := c.server.loop.Run(ctx, agent.RunRequest{
		SessionKey: sessionKey,
		Message:    p.Message,
		Media:      p.Media,
		Channel:    "ws",
		ChatID:     chatID,
		PeerKind:   string(sessions.PeerDirect),
		AgentID:    agentID,
		// Stream the turn's terminal log to this client (and any other
		// subscriber) while the run is in progress.
		EmitLog: func(line string) {
			c.server.eventPub.Broadcast(bus.Event{Name: protocol.EventAgent, Payload: map[string]string{
				"type":    "log",
				"session": sessionKey,
				"line":    line,
			}})
		},
	})
	if err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}

	return protocol.NewResultResponse(req.ID, map[string]interface{}{
		"content":  result.Content,
		"provider": result.Provider,
		"model":    result.Model,
	})
}

type sessionKeyParams struct {
	AgentID string `json:"agentId,omitempty"`
	ChatID  string `json:"chatId"`
}

func (c *Client) handleChatHistory(req protocol.Request) *protocol.Response {
	if c.server.sessions == nil {
		return protocol.NewResultResponse(req.ID, []interface{}{})
	}
	var p sessionKeyParams
	_ = json.Unmarshal(req.Params, &p)
	agentID := p.AgentID
	if agentID == "" {
		agentID = c.server.cfg.ResolveDefaultAgentID()
	}
	key := sessions.BuildSessionKey(agentID, "ws", sessions.PeerDirect, p.ChatID)
	return protocol.NewResultResponse(req.ID, c.server.sessions.GetHistory(key))
}

func (c *Client) handleSessionsList(req protocol.Request) *protocol.Response {
	if c.server.sessions == nil {
		return protocol.NewResultResponse(req.ID, []interface{}{})
	}
	var p struct {
		AgentID string `json:"agentId,omitempty"`
	}
	_ = json.Unmarshal(req.Params, &p)
	return protocol.NewResultResponse(req.ID, c.server.sessions.List(p.AgentID))
}

func (c *Client) handleSessionsReset(req protocol.Request) *protocol.Response {
	if c.server.sessions == nil {
		return protocol.NewErrorResponse(req.ID, 503, "sessions unavailable")
	}
	var p sessionKeyParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return protocol.NewErrorResponse(req.ID, 400, "invalid params")
	}
	agentID := p.AgentID
	if agentID == "" {
		agentID = c.server.cfg.ResolveDefaultAgentID()
	}
	key := sessions.BuildSessionKey(agentID, "ws", sessions.PeerDirect, p.ChatID)
	c.server.sessions.Reset(key)
	_ = c.server.sessions.Save(key)
	return protocol.NewResultResponse(req.ID, map[string]bool{"ok": true})
}

func (c *Client) handleSessionsDelete(req protocol.Request) *protocol.Response {
	if c.server.sessions == nil {
		return protocol.NewErrorResponse(req.ID, 503, "sessions unavailable")
	}
	var p sessionKeyParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return protocol.NewErrorResponse(req.ID, 400, "invalid params")
	}
	agentID := p.AgentID
	if agentID == "" {
		agentID = c.server.cfg.ResolveDefaultAgentID()
	}
	key := sessions.BuildSessionKey(agentID, "ws", sessions.PeerDirect, p.ChatID)
	if err := c.server.sessions.Delete(key); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	return protocol.NewResultResponse(req.ID, map[string]bool{"ok": true})
}
