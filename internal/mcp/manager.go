// Package mcp bridges external Model Context Protocol servers into the
// local tools.Registry, using mark3labs/mcp-go as the wire client so every
// discovered MCP tool calls through the same Handler interface as a
// built-in tool.
package mcp

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"

	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// ServerStatus reports the connection status of an MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// serverState tracks a single MCP server connection.
type serverState struct {
	name       string
	transport  string
	client     *mcpclient.Client
	connected  atomic.Bool
	toolNames  []string
	timeoutSec int
	cancel     context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager connects to every enabled server in config.Config.MCPServers and
// registers their tools into a shared tools.Registry.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry
	configs  []config.MCPServerConfig
}

// NewManager creates a Manager that will connect to the given server
// configs when Start is called.
func NewManager(registry *tools.Registry, configs []config.MCPServerConfig) *Manager {
	return &Manager{
		servers:  make(map[string]*serverState),
		registry: registry,
		configs:  configs,
	}
}

// Start connects to all enabled configured MCP servers. Non-fatal: a server
// that fails to connect is logged and skipped, not returned as an error.
func (m *Manager) Start(ctx context.Context) error {
	for _, cfg := range m.configs {
		if !cfg.Enabled {
			slog.Info("mcp.server.disabled", "server", cfg.Name)
			continue
		}
		if err := m.connectServer(ctx, cfg.Name, cfg.Transport, cfg.Command, cfg.Args, cfg.Env, cfg.URL, nil, "", 0); err != nil {
			slog.Warn("mcp.server.connect_failed", "server", cfg.Name, "error", err)
		}
	}
	return nil
}

// Stop shuts down all MCP server connections and unregisters their tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcp.server.close_error", "server", name, "error", err)
			}
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

// ServerStatus returns the status of every MCP server this Manager has
// attempted to connect to.
func (m *Manager) ServerStatus() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     ss.lastErr,
		})
	}
	return statuses
}
