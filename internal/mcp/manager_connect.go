package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/opengunther/guenther/internal/tools"
)

// connectServer creates a client, initializes the connection, discovers
// tools, and registers one proxy descriptor per discovered tool.
func (m *Manager) connectServer(ctx context.Context, name, transportType, command string, args []string, env map[string]string, url string, headers map[string]string, toolPrefix string, timeoutSec int) error {
	client, err := createClient(transportType, command, args, env, url, headers)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// Start transport (SSE/streamable-http need explicit Start; stdio auto-starts)
	if transportType != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	// Initialize MCP handshake
	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "guenther",
		Version: "1.0.0",
	}

	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	// Discover tools
	toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	if timeoutSec <= 0 {
		timeoutSec = 60
	}

	ss := &serverState{
		name:       name,
		transport:  transportType,
		client:     client,
		timeoutSec: timeoutSec,
	}
	ss.connected.Store(true)

	// Register one proxy descriptor per discovered tool. A later
	// registration would replace an earlier one, so collisions with
	// already-present tools are skipped instead.
	var registeredNames []string
	for _, mcpTool := range toolsResult.Tools {
		toolName := toolPrefix + mcpTool.Name
		if _, exists := m.registry.Get(toolName); exists {
			slog.Warn("mcp.tool.name_collision", "server", name, "tool", toolName, "action", "skipped")
			continue
		}

		handler := &bridgeHandler{
			toolName:    toolName,
			remoteName:  mcpTool.Name,
			description: mcpTool.Description,
			schema:      inputSchemaAsMap(mcpTool.InputSchema),
			client:      client,
			timeout:     time.Duration(timeoutSec) * time.Second,
			connected:   &ss.connected,
		}
		m.registry.Register(&tools.Descriptor{
			Name:        toolName,
			Description: mcpTool.Description,
			InputSchema: handler.schema,
			Handler:     handler,
			Origin:      tools.ExternalOrigin(name),
		})
		registeredNames = append(registeredNames, toolName)
	}
	ss.toolNames = registeredNames

	// Start health monitoring
	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	slog.Info("mcp.server.connected",
		"server", name,
		"transport", transportType,
		"tools", len(registeredNames),
	)

	return nil
}

// bridgeHandler adapts one remote MCP tool to the tools.Handler
// interface: kwargs in, first content item out, media unwrapped.
type bridgeHandler struct {
	toolName    string
	remoteName  string
	description string
	schema      map[string]interface{}
	client      *mcpclient.Client
	timeout     time.Duration
	connected   *atomic.Bool
}

func (h *bridgeHandler) Name() string        { return h.toolName }
func (h *bridgeHandler) Description() string { return h.description }
func (h *bridgeHandler) Parameters() map[string]interface{} {
	return h.schema
}

func (h *bridgeHandler) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !h.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP-Server für %q ist nicht verbunden", h.toolName))
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	callReq := mcpgo.CallToolRequest{}
	callReq.Params.Name = h.remoteName
	callReq.Params.Arguments = args

	result, err := h.client.CallTool(callCtx, callReq)
	if err != nil {
		return tools.ErrorResult(err.Error()).WithError(err)
	}
	if len(result.Content) == 0 {
		return tools.NewResult(`{"result": ""}`)
	}

	switch c := result.Content[0].(type) {
	case mcpgo.TextContent:
		if result.IsError {
			return tools.ErrorResult(c.Text)
		}
		return tools.NewResult(c.Text)
	case mcpgo.ImageContent:
		mime := c.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		r := tools.NewResult(`{"success": true}`)
		r.Media = &tools.MediaPayload{Kind: tools.MediaImage, Data: c.Data, MIME: mime}
		return r
	default:
		return tools.ErrorResult(fmt.Sprintf("unerwarteter Inhaltstyp vom MCP-Server für %q", h.toolName))
	}
}

// inputSchemaAsMap converts mcp-go's typed input schema back into the
// free-form JSON-schema map the registry carries.
func inputSchemaAsMap(schema mcpgo.ToolInputSchema) map[string]interface{} {
	out := map[string]interface{}{"type": "object"}
	if schema.Type != "" {
		out["type"] = schema.Type
	}
	if schema.Properties != nil {
		out["properties"] = schema.Properties
	} else {
		out["properties"] = map[string]interface{}{}
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// mapToEnvSlice renders an env map as KEY=VALUE pairs for stdio children.
func mapToEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// createClient creates the appropriate MCP client based on transport type.
func createClient(transportType, command string, args []string, env map[string]string, url string, headers map[string]string) (*mcpclient.Client, error) {
	switch transportType {
	case "stdio":
		envSlice := mapToEnvSlice(env)
		return mcpclient.NewStdioMCPClient(command, envSlice, args...)

	case "sse":
		var opts []transport.ClientOption
		if len(headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(headers))
		}
		return mcpclient.NewSSEMCPClient(url, opts...)

	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(headers))
		}
		return mcpclient.NewStreamableHttpClient(url, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %q", transportType)
	}
}

// healthLoop periodically pings the MCP server and attempts reconnection on failure.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ss.client.Ping(ctx); err != nil {
				// Servers that don't implement "ping" are still alive — treat as healthy.
				if strings.Contains(strings.ToLower(err.Error()), "method not found") {
					ss.connected.Store(true)
					ss.mu.Lock()
					ss.reconnAttempts = 0
					ss.lastErr = ""
					ss.mu.Unlock()
					continue
				}
				ss.connected.Store(false)
				ss.mu.Lock()
				ss.lastErr = err.Error()
				ss.mu.Unlock()

				slog.Warn("mcp.server.health_failed", "server", ss.name, "error", err)
				m.tryReconnect(ctx, ss)
			} else {
				ss.connected.Store(true)
				ss.mu.Lock()
				ss.reconnAttempts = 0
				ss.lastErr = ""
				ss.mu.Unlock()
			}
		}
	}
}

// tryReconnect attempts to reconnect with exponential backoff.
func (m *Manager) tryReconnect(ctx context.Context, ss *serverState) {
	ss.mu.Lock()
	if ss.reconnAttempts >= maxReconnectAttempts {
		ss.lastErr = fmt.Sprintf("max reconnect attempts (%d) reached", maxReconnectAttempts)
		ss.mu.Unlock()
		slog.Error("mcp.server.reconnect_exhausted", "server", ss.name)
		return
	}
	ss.reconnAttempts++
	attempt := ss.reconnAttempts
	ss.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	slog.Info("mcp.server.reconnecting",
		"server", ss.name,
		"attempt", attempt,
		"backoff", backoff,
	)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	// Try to ping again — transport may have auto-reconnected
	if err := ss.client.Ping(ctx); err == nil {
		ss.connected.Store(true)
		ss.mu.Lock()
		ss.reconnAttempts = 0
		ss.lastErr = ""
		ss.mu.Unlock()
		slog.Info("mcp.server.reconnected", "server", ss.name)
	}
}
