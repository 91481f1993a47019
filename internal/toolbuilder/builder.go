package toolbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/providers"
	"github.com/opengunther/guenther/internal/tools"
)

// MaxLoops caps the generate→validate→fix cycle.
const MaxLoops = 15

// buildTimeout bounds one go build invocation in the sandbox.
const buildTimeout = 60 * time.Second

// probeTimeout bounds the smoke run of a freshly built binary.
const probeTimeout = 30 * time.Second

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

// Builder drives the build loop and owns the custom-tools directory.
type Builder struct {
	providers *providers.Registry
	cfg       *config.Config
	registry  *tools.Registry
	customDir string
	manager   *Manager
}

// New creates a Builder installing into customDir and registering results
// through manager.
func New(provReg *providers.Registry, cfg *config.Config, registry *tools.Registry, customDir string, manager *Manager) *Builder {
	return &Builder{
		providers: provReg,
		cfg:       cfg,
		registry:  registry,
		customDir: config.ExpandHome(customDir),
		manager:   manager,
	}
}

// BuildResult reports one build run.
type BuildResult struct {
	Success         bool     `json:"success"`
	ToolName        string   `json:"tool_name,omitempty"`
	RegisteredTools []string `json:"registered_tools,omitempty"`
	Mode            string   `json:"mode"` // "create" or "edit"
	LoopsUsed       int      `json:"loops_used"`
	Error           string   `json:"error,omitempty"`
}

// plan is the (best-effort) output of the plan phase.
type plan struct {
	ToolName   string `json:"tool_name"`
	Summary    string `json:"summary"`
	Usage      string `json:"usage"`
	Parameters []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
		Required    bool   `json:"required"`
	} `json:"parameters"`
	Approach string `json:"approach"`
}

// codeDraft is the output of the code and fix phases.
type codeDraft struct {
	ToolName string `json:"tool_name"`
	Code     string `json:"code"`
}

// Build generates a tool for description, validates it in a sandbox,
// installs it under the custom-tools directory, and hot-registers it.
// toolName may be empty (the model picks one) or name an existing custom
// tool (edit mode).
func (b *Builder) Build(ctx context.Context, description, toolName string, emitLog func(string)) BuildResult {
	logf := func(format string, args ...interface{}) {
		if emitLog != nil {
			emitLog(fmt.Sprintf(format, args...))
		}
	}
	logf("BUILD MCP TOOL: Start — %s", firstLine(description))

	provider, model, err := b.resolveProviderModel()
	if err != nil {
		return BuildResult{Mode: "create", Error: err.Error()}
	}

	// Plan phase, non-fatal.
	pl := b.planPhase(ctx, provider, model, description, logf)
	if toolName == "" && pl != nil {
		toolName = pl.ToolName
	}

	draft, err := b.codePhase(ctx, provider, model, description, pl)
	if err != nil {
		return BuildResult{Mode: "create", Error: fmt.Sprintf("Code-Phase fehlgeschlagen: %v", err)}
	}
	if toolName == "" {
		toolName = draft.ToolName
	}
	if !toolNamePattern.MatchString(toolName) {
		return BuildResult{Mode: "create", Error: fmt.Sprintf("ungültiger Werkzeugname %q", toolName)}
	}

	mode := "create"
	installDir := filepath.Join(b.customDir, toolName)
	if _, err := os.Stat(installDir); err == nil {
		mode = "edit"
	}
	logf("BUILD MCP TOOL: Modus %s, Name %s", mode, toolName)

	// Sandboxed validation loop.
	scratch, err := os.MkdirTemp("", "toolbuild-*")
	if err != nil {
		return BuildResult{Mode: mode, Error: fmt.Sprintf("Sandbox anlegen fehlgeschlagen: %v", err)}
	}
	defer os.RemoveAll(scratch)

	var binary string
	var listed []toolInfo
	loops := 0
	for loops < MaxLoops {
		loops++
		logf("BUILD MCP TOOL: Validierung %d/%d", loops, MaxLoops)

		binary, listed, err = b.validate(ctx, scratch, toolName, draft.Code)
		if err == nil {
			break
		}
		logf("BUILD MCP TOOL: Fehler — %s", firstLine(err.Error()))

		draft, err = b.fixPhase(ctx, provider, model, draft.Code, err.Error())
		if err != nil {
			return BuildResult{Mode: mode, LoopsUsed: loops, Error: fmt.Sprintf("Korrektur-Phase fehlgeschlagen: %v", err)}
		}
	}
	if binary == "" {
		return BuildResult{
			Mode: mode, LoopsUsed: loops,
			Error: fmt.Sprintf("Test fehlgeschlagen nach %d Versuchen. Bitte Beschreibung präzisieren.", MaxLoops),
		}
	}

	// Install phase: move source + binary into the custom-tools dir.
	if mode == "edit" {
		b.manager.StopTool(toolName)
		b.registry.UnregisterByOrigin("custom:" + toolName)
	}
	if err := b.install(installDir, draft.Code, binary); err != nil {
		return BuildResult{Mode: mode, LoopsUsed: loops, Error: fmt.Sprintf("Installation fehlgeschlagen: %v", err)}
	}

	// Register phase: spawn the installed binary and register its tools.
	names, err := b.manager.StartTool(ctx, toolName)
	if err != nil {
		if mode == "create" {
			os.RemoveAll(installDir)
		}
		return BuildResult{Mode: mode, LoopsUsed: loops, Error: fmt.Sprintf("Registrierung fehlgeschlagen: %v", err)}
	}
	if len(names) == 0 {
		if mode == "create" {
			os.RemoveAll(installDir)
		}
		return BuildResult{Mode: mode, LoopsUsed: loops, Error: "Registrierung ergab keine Werkzeuge"}
	}

	// Plan verification: log deviations, never fail on them.
	if pl != nil && pl.ToolName != "" && pl.ToolName != listedName(listed) {
		logf("BUILD MCP TOOL: Hinweis — Plan nannte %q, gebaut wurde %q", pl.ToolName, listedName(listed))
	}

	logf("BUILD MCP TOOL: Fertig — %s (%d Schleifen)", toolName, loops)
	return BuildResult{
		Success:         true,
		ToolName:        toolName,
		RegisteredTools: names,
		Mode:            mode,
		LoopsUsed:       loops,
	}
}

func (b *Builder) resolveProviderModel() (providers.Provider, string, error) {
	providerID, model := tools.ToolSettingOverride(b.cfg.ToolSettingsFor("build_mcp_tool"))
	if providerID == "" {
		b.cfg.RLock()
		providerID, model = b.cfg.Default, b.cfg.Model
		b.cfg.RUnlock()
	}
	p, err := b.providers.Get(providerID)
	if err != nil {
		return nil, "", fmt.Errorf("kein Provider für den Tool-Builder konfiguriert: %w", err)
	}
	return p, model, nil
}

func (b *Builder) planPhase(ctx context.Context, provider providers.Provider, model, description string, logf func(string, ...interface{})) *plan {
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: planPrompt},
			{Role: "user", Content: description},
		},
		Options: map[string]interface{}{providers.OptTemperature: 0.2},
	})
	if err != nil {
		logf("BUILD MCP TOOL: Plan-Phase übersprungen (%s)", firstLine(err.Error()))
		return nil
	}
	var pl plan
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &pl); err != nil {
		logf("BUILD MCP TOOL: Plan unlesbar, fahre ohne fort")
		return nil
	}
	logf("BUILD MCP TOOL: Plan — %s", pl.Summary)
	return &pl
}

func (b *Builder) codePhase(ctx context.Context, provider providers.Provider, model, description string, pl *plan) (*codeDraft, error) {
	user := description
	if pl != nil {
		planJSON, _ := json.Marshal(pl)
		user = fmt.Sprintf("%s\n\nPlan:\n%s", description, planJSON)
	}
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: codePrompt},
			{Role: "user", Content: user},
		},
		Options: map[string]interface{}{providers.OptTemperature: 0.2},
	})
	if err != nil {
		return nil, err
	}
	return parseDraft(resp.Content)
}

func (b *Builder) fixPhase(ctx context.Context, provider providers.Provider, model, code, errText string) (*codeDraft, error) {
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: codePrompt},
			{Role: "user", Content: fmt.Sprintf(fixPrompt, errText, code)},
		},
		Options: map[string]interface{}{providers.OptTemperature: 0.2},
	})
	if err != nil {
		return nil, err
	}
	return parseDraft(resp.Content)
}

func parseDraft(content string) (*codeDraft, error) {
	var d codeDraft
	if err := json.Unmarshal([]byte(stripFences(content)), &d); err != nil {
		return nil, fmt.Errorf("Antwort nicht als JSON lesbar: %w", err)
	}
	if strings.TrimSpace(d.Code) == "" {
		return nil, fmt.Errorf("Antwort enthält keinen Code")
	}
	return &d, nil
}

// validate writes the candidate source into the scratch module, builds it
// without network access, then smoke-runs the binary through the
// initialize/tools/list handshake.
func (b *Builder) validate(ctx context.Context, scratch, toolName, code string) (string, []toolInfo, error) {
	if err := os.WriteFile(filepath.Join(scratch, "main.go"), []byte(code), 0600); err != nil {
		return "", nil, fmt.Errorf("Quelldatei schreiben: %w", err)
	}
	gomod := fmt.Sprintf("module %s\n\ngo 1.25\n", toolName)
	if err := os.WriteFile(filepath.Join(scratch, "go.mod"), []byte(gomod), 0600); err != nil {
		return "", nil, fmt.Errorf("go.mod schreiben: %w", err)
	}

	binary := filepath.Join(scratch, toolName)
	buildCtx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()
	cmd := exec.CommandContext(buildCtx, "go", "build", "-o", binary, ".")
	cmd.Dir = scratch
	cmd.Env = append(os.Environ(),
		"CGO_ENABLED=0",
		"GOPROXY=off", // stdlib only; no network in the sandbox
		"GOFLAGS=-mod=mod",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", nil, fmt.Errorf("go build fehlgeschlagen:\n%s", strings.TrimSpace(string(out)))
	}

	probeCtx, cancel2 := context.WithTimeout(ctx, probeTimeout)
	defer cancel2()
	p, err := startProc(probeCtx, binary)
	if err != nil {
		return "", nil, fmt.Errorf("Probelauf fehlgeschlagen: %v", err)
	}
	defer p.stop()

	listed, err := p.listTools(probeCtx)
	if err != nil {
		return "", nil, fmt.Errorf("tools/list fehlgeschlagen: %v", err)
	}
	if len(listed) == 0 {
		return "", nil, fmt.Errorf("tools/list lieferte keine Werkzeuge")
	}
	for _, t := range listed {
		if t.InputSchema == nil {
			return "", nil, fmt.Errorf("Werkzeug %q hat kein inputSchema", t.Name)
		}
		if _, ok := t.InputSchema["properties"]; !ok {
			return "", nil, fmt.Errorf("Werkzeug %q: inputSchema ohne properties", t.Name)
		}
	}
	return binary, listed, nil
}

// install copies the validated source and binary into the tool's
// directory under custom-tools.
func (b *Builder) install(installDir, code, binary string) error {
	if err := os.MkdirAll(installDir, 0755); err != nil {
		return fmt.Errorf("Zielverzeichnis anlegen: %w", err)
	}
	if err := os.WriteFile(filepath.Join(installDir, "main.go"), []byte(code), 0600); err != nil {
		return fmt.Errorf("Quelle installieren: %w", err)
	}
	data, err := os.ReadFile(binary)
	if err != nil {
		return fmt.Errorf("Binärdatei lesen: %w", err)
	}
	target := filepath.Join(installDir, "tool")
	if err := os.WriteFile(target, data, 0755); err != nil {
		return fmt.Errorf("Binärdatei installieren: %w", err)
	}
	return nil
}

func listedName(listed []toolInfo) string {
	if len(listed) == 0 {
		return ""
	}
	return listed[0].Name
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// stripFences removes a Markdown code fence wrapper, which models add
// despite instructions often enough to be worth tolerating.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
