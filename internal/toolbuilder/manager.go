package toolbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/tools"
)

// Manager owns the long-lived child processes of installed custom tools
// and keeps the registry in sync with them.
type Manager struct {
	mu        sync.Mutex
	procs     map[string]*proc // tool dir name → running child
	registry  *tools.Registry
	customDir string
}

// NewManager creates a Manager over customDir. Call LoadAll to start the
// installed tools.
func NewManager(registry *tools.Registry, customDir string) *Manager {
	return &Manager{
		procs:     make(map[string]*proc),
		registry:  registry,
		customDir: config.ExpandHome(customDir),
	}
}

// LoadAll scans the custom-tools directory and starts every installed
// tool. A tool that fails to start is logged and skipped, never fatal.
func (m *Manager) LoadAll(ctx context.Context) {
	entries, err := os.ReadDir(m.customDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("custom tools: scan failed", "dir", m.customDir, "error", err)
		}
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := m.StartTool(ctx, e.Name()); err != nil {
			slog.Warn("custom tools: start failed", "tool", e.Name(), "error", err)
		}
	}
}

// StartTool spawns the installed binary for dirName, lists its tools, and
// registers a proxy descriptor per tool. Returns the registered names.
func (m *Manager) StartTool(ctx context.Context, dirName string) ([]string, error) {
	binary := filepath.Join(m.customDir, dirName, "tool")
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("no installed binary for %s: %w", dirName, err)
	}

	// The child outlives the request that registered it; only StopTool /
	// StopAll end it, never the caller's ctx.
	p, err := startProc(context.Background(), binary)
	if err != nil {
		return nil, err
	}

	listed, err := p.listTools(ctx)
	if err != nil {
		p.stop()
		return nil, err
	}
	if len(listed) == 0 {
		p.stop()
		return nil, fmt.Errorf("%s listed no tools", dirName)
	}

	m.mu.Lock()
	if old, ok := m.procs[dirName]; ok {
		old.stop()
	}
	m.procs[dirName] = p
	m.mu.Unlock()

	origin := "custom:" + dirName
	names := make([]string, 0, len(listed))
	for _, info := range listed {
		m.registry.Register(&tools.Descriptor{
			Name:             info.Name,
			Description:      info.Description,
			InputSchema:      info.InputSchema,
			Handler:          &proxyHandler{proc: p, info: info},
			Origin:           origin,
			AgentOverridable: true,
		})
		names = append(names, info.Name)
	}
	slog.Info("custom tool registered", "dir", dirName, "tools", names)
	return names, nil
}

// StopTool terminates dirName's child and unregisters its tools.
func (m *Manager) StopTool(dirName string) {
	m.mu.Lock()
	p, ok := m.procs[dirName]
	if ok {
		delete(m.procs, dirName)
	}
	m.mu.Unlock()
	if ok {
		p.stop()
	}
	m.registry.UnregisterByOrigin("custom:" + dirName)
}

// StopAll terminates every child, used at shutdown and before a full
// reconfiguration.
func (m *Manager) StopAll() {
	m.mu.Lock()
	procs := m.procs
	m.procs = make(map[string]*proc)
	m.mu.Unlock()
	for dirName, p := range procs {
		p.stop()
		m.registry.UnregisterByOrigin("custom:" + dirName)
	}
}

// proxyHandler adapts one child-process tool to the tools.Handler
// interface: kwargs in, content list out, media unwrapped.
type proxyHandler struct {
	proc *proc
	info toolInfo
}

func (h *proxyHandler) Name() string        { return h.info.Name }
func (h *proxyHandler) Description() string { return h.info.Description }
func (h *proxyHandler) Parameters() map[string]interface{} {
	return h.info.InputSchema
}

func (h *proxyHandler) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	content, err := h.proc.callTool(ctx, h.info.Name, args)
	if err != nil {
		return tools.ErrorResult(err.Error()).WithError(err)
	}
	if len(content) == 0 {
		return tools.NewResult(`{"result": ""}`)
	}

	first := content[0]
	switch first.Type {
	case "image":
		mime := first.MimeType
		if mime == "" {
			mime = "image/png"
		}
		r := tools.NewResult(`{"success": true}`)
		r.Media = &tools.MediaPayload{Kind: tools.MediaImage, Data: first.Data, MIME: mime}
		return r
	default:
		text := first.Text
		if !json.Valid([]byte(text)) {
			encoded, _ := json.Marshal(map[string]string{"result": text})
			text = string(encoded)
		}
		if r := localFileResult(text); r != nil {
			return r
		}
		return tools.NewResult(text)
	}
}

// localFileResult recognizes a text result carrying the reserved
// local_file_path key — a tool that wrote its artifact to disk instead of
// inlining base64 — and turns it into a media record so the orchestrator
// intercepts the path rather than feeding it to the model.
func localFileResult(text string) *tools.Result {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil
	}
	path, ok := fields["local_file_path"].(string)
	if !ok || path == "" {
		return nil
	}
	delete(fields, "local_file_path")

	r := tools.NewResult(text)
	r.Media = &tools.MediaPayload{Kind: tools.MediaLocalFile, Data: path}
	r.Extra = fields
	return r
}
