// Package agent implements the orchestrator that drives one run_agent
// turn: resolve the active provider/model, assemble the message
// history, and loop over LLM calls and tool calls until the model
// produces a final answer or the iteration budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/opengunther/guenther/internal/bus"
	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/providers"
	"github.com/opengunther/guenther/internal/sessions"
	"github.com/opengunther/guenther/internal/store"
	"github.com/opengunther/guenther/internal/tools"
)

// MaxIterations bounds the number of LLM<->tool round-trips within a single
// run_agent call before the turn is abandoned.
const MaxIterations = 10

var tracer = otel.Tracer("guenther/agent")

// LoopConfig wires the dependencies a Loop needs to service turns.
type LoopConfig struct {
	Providers       *providers.Registry
	Tools           *tools.Registry
	Policy          *tools.PolicyEngine
	Sessions        *sessions.Manager
	Config          *config.Config
	EventPub        bus.EventPublisher
	Files           store.FileStore // nil disables STORED_FILE rewriting; markers stay inline
	MaxMessageChars int             // 0 disables truncation
}

// Loop is the agent orchestrator — one Loop
// instance is shared across every turn, for every agent profile and
// channel, since all per-turn state lives in RunRequest/RunResult.
type Loop struct {
	providers       *providers.Registry
	tools           *tools.Registry
	policy          *tools.PolicyEngine
	sessions        *sessions.Manager
	cfg             *config.Config
	eventPub        bus.EventPublisher
	files           store.FileStore
	maxMessageChars int
}

// Files exposes the loop's file store so the dispatch layer can resolve
// stored-file references in replies.
func (l *Loop) Files() store.FileStore { return l.files }

// NewLoop builds a Loop from its wiring.
func NewLoop(cfg LoopConfig) *Loop {
	policy := cfg.Policy
	if policy == nil {
		policy = tools.NewPolicyEngine()
	}
	return &Loop{
		providers:       cfg.Providers,
		tools:           cfg.Tools,
		policy:          policy,
		sessions:        cfg.Sessions,
		cfg:             cfg.Config,
		eventPub:        cfg.EventPub,
		files:           cfg.Files,
		maxMessageChars: cfg.MaxMessageChars,
	}
}

// RunRequest is the input to one agent turn.
type RunRequest struct {
	SessionKey string
	Message    string
	Media      []string // local image file paths attached to the user turn

	Channel  string
	ChatID   string
	PeerKind string
	AgentID  string

	// SystemPrompt overrides the agent profile's configured system prompt
	// for this turn only, when non-empty.
	SystemPrompt string

	// AgentProviderID/AgentModel are explicit call-time overrides
	// (highest-priority tier of the provider/model resolution order).
	AgentProviderID string
	AgentModel      string

	// EmitLog, when set, receives every line that belongs in the
	// operator-facing terminal log for this turn (raw tool output,
	// sanitized tool output, the closing banner).
	EmitLog func(line string)
}

// RunResult is the output of one agent turn.
type RunResult struct {
	Content    string
	Iterations int
	Usage      *providers.Usage
	Provider   string
	Model      string
}

// mediaMarker is one finalization marker collected during the tool loop
// and appended to the assistant's closing text once the turn ends.
type mediaMarker struct {
	line string
}

// Run executes one full agent turn against req.SessionKey's history and
// returns the assistant's final text with media markers embedded. It always logs a closing banner before returning,
// including on early error returns.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "agent.run",
		oteltrace.WithAttributes(
			attribute.String("agent.session_key", req.SessionKey),
			attribute.String("agent.channel", req.Channel),
		))
	defer span.End()

	logLine := func(format string, args ...interface{}) {
		line := fmt.Sprintf(format, args...)
		if req.EmitLog != nil {
			req.EmitLog(line)
		}
	}
	defer logLine("GUENTHER AGENT BEENDET")

	profile := l.cfg.ResolveAgent(req.AgentID)
	systemPrompt := profile.SystemPrompt
	if req.SystemPrompt != "" {
		systemPrompt = req.SystemPrompt
	}

	filtered := l.filteredTools(profile)
	if routerProvider, rerr := l.providers.Get(l.cfg.Default); rerr == nil {
		filtered = routeTools(ctx, routerProvider, l.cfg.Model, filtered, req.Message, logLine)
	}

	providerID, model := l.resolveProviderModel(req, profile, filtered)
	provider, err := l.providers.Get(providerID)
	if err != nil {
		msg := fmt.Sprintf("Fehler: %s", err.Error())
		span.SetStatus(codes.Error, err.Error())
		logLine("Fehler bei Provider-Aufloesung: %s", err.Error())
		return &RunResult{Content: msg, Provider: providerID, Model: model}, nil
	}
	span.SetAttributes(attribute.String("agent.provider", providerID), attribute.String("agent.model", model))

	history := l.sessions.GetHistory(req.SessionKey)
	summary := l.sessions.GetSummary(req.SessionKey)

	userContent := req.Message
	if l.maxMessageChars > 0 && len(userContent) > l.maxMessageChars {
		userContent = userContent[:l.maxMessageChars] + "\n\n[Nachricht gekuerzt: Zeichenlimit ueberschritten]"
	}

	var images []providers.ImageContent
	if len(req.Media) > 0 {
		images = loadImages(req.Media)
	}
	userMsg := providers.Message{Role: "user", Content: userContent, Images: images}

	turnMessages := []providers.Message{userMsg}
	toolDefs := tools.AsModelSchemas(filtered)

	var (
		finalContent string
		usage        providers.Usage
		collected    []mediaMarker
	)

	iteration := 0
	for iteration < MaxIterations {
		iteration++

		messages := l.buildMessages(history, summary, systemPrompt, turnMessages)

		chatReq := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    model,
			Options: map[string]interface{}{
				providers.OptTemperature: l.cfg.Temperature,
			},
		}

		iterCtx, iterSpan := tracer.Start(ctx, "agent.iteration",
			oteltrace.WithAttributes(attribute.Int("agent.iteration", iteration)))
		resp, err := provider.Chat(iterCtx, chatReq)
		if err != nil {
			iterSpan.SetStatus(codes.Error, err.Error())
			iterSpan.End()
			msg := fmt.Sprintf("Fehler: %s", err.Error())
			logLine("Fehler beim LLM-Aufruf: %s", err.Error())
			return &RunResult{Content: msg, Iterations: iteration, Provider: providerID, Model: model}, nil
		}
		if resp.Usage != nil {
			usage.PromptTokens += resp.Usage.PromptTokens
			usage.CompletionTokens += resp.Usage.CompletionTokens
			usage.TotalTokens += resp.Usage.TotalTokens
		}
		iterSpan.End()

		assistantMsg := providers.Message{
			Role:                "assistant",
			Content:             resp.Content,
			ToolCalls:           resp.ToolCalls,
			RawAssistantContent: resp.RawAssistantContent,
		}
		turnMessages = append(turnMessages, assistantMsg)

		if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		// Tool calls within an iteration execute sequentially, never
		// concurrently, so a later call can rely on an earlier one's
		// side effects having already landed.
		for _, tc := range resp.ToolCalls {
			forLLM := l.executeOneToolCall(ctx, req, &collected, tc, logLine)
			turnMessages = append(turnMessages, providers.Message{
				Role:       "tool",
				Content:    forLLM,
				ToolCallID: tc.ID,
			})
		}
	}

	if finalContent == "" && iteration >= MaxIterations {
		finalContent = "Maximale Iterationen erreicht. Bitte versuche es erneut."
	}

	// A genuinely empty terminal reply stays empty; the caller decides
	// what "nothing to say" means for its channel.
	finalContent = SanitizeAssistantContent(finalContent)
	for _, m := range collected {
		finalContent = strings.TrimRight(finalContent, "\n") + "\n\n" + m.line
	}
	finalContent = strings.TrimSpace(finalContent)
	finalContent = ExtractMedia(finalContent, l.files)

	for _, m := range turnMessages {
		l.sessions.AddMessage(req.SessionKey, m)
	}
	l.sessions.UpdateMetadata(req.SessionKey, model, providerID, req.Channel)
	l.sessions.AccumulateTokens(req.SessionKey, int64(usage.PromptTokens), int64(usage.CompletionTokens))
	_ = l.sessions.Save(req.SessionKey)

	return &RunResult{
		Content:    finalContent,
		Iterations: iteration,
		Usage:      &usage,
		Provider:   providerID,
		Model:      model,
	}, nil
}

// filteredTools narrows the registry down to what profile may use.
func (l *Loop) filteredTools(profile config.AgentProfileConfig) []*tools.Descriptor {
	all := l.tools.List()
	if len(profile.ToolAllow) == 0 {
		return all
	}
	allow := make(map[string]bool, len(profile.ToolAllow))
	for _, name := range profile.ToolAllow {
		allow[name] = true
	}
	filtered := make([]*tools.Descriptor, 0, len(all))
	for _, d := range all {
		if allow[d.Name] {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// resolveProviderModel implements the provider/model resolution order:
// explicit call-time override, then tool-settings consensus among the
// tools this turn can see, then the agent profile's own default, then
// the global config default.
func (l *Loop) resolveProviderModel(req RunRequest, profile config.AgentProfileConfig, filtered []*tools.Descriptor) (providerID, model string) {
	if req.AgentProviderID != "" && req.AgentModel != "" {
		return req.AgentProviderID, req.AgentModel
	}

	if pid, m, ok := l.toolSettingsConsensus(filtered); ok {
		return pid, m
	}

	pid := profile.ProviderID
	m := profile.Model
	if pid == "" {
		pid = l.cfg.Default
	}
	if m == "" {
		m = l.cfg.Model
	}
	return pid, m
}

// toolSettingsConsensus returns (provider, model, true) only when every
// filtered tool that carries a provider/model override in ToolSettings
// agrees on the same pair; tools with no override are ignored.
func (l *Loop) toolSettingsConsensus(filtered []*tools.Descriptor) (providerID, model string, ok bool) {
	for _, d := range filtered {
		p, m := tools.ToolSettingOverride(l.cfg.ToolSettingsFor(d.Name))
		if p == "" && m == "" {
			continue
		}
		if providerID == "" && model == "" {
			providerID, model = p, m
			continue
		}
		if p != providerID || m != model {
			return "", "", false
		}
	}
	if providerID == "" || model == "" {
		return "", "", false
	}
	return providerID, model, true
}

// buildMessages assembles the full message list sent to the provider:
// system prompt, running summary, prior history (with embedded media
// data-URIs stripped from historical assistant turns so they are never
// resent), then this turn's messages so far.
func (l *Loop) buildMessages(history []providers.Message, summary, systemPrompt string, turnMessages []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(history)+len(turnMessages)+2)
	if systemPrompt != "" {
		out = append(out, providers.Message{Role: "system", Content: systemPrompt})
	}
	if summary != "" {
		out = append(out, providers.Message{Role: "system", Content: "Zusammenfassung des bisherigen Verlaufs:\n" + summary})
	}
	for _, m := range history {
		if m.Role == "assistant" {
			m.Content = stripEmbeddedMediaDataURIs(m.Content)
		}
		out = append(out, m)
	}
	out = append(out, turnMessages...)
	return out
}

// executeOneToolCall runs a single tool call and returns the content to
// feed back to the LLM as the matching tool-role message. Media records
// are intercepted into collected instead of being forwarded verbatim.
func (l *Loop) executeOneToolCall(ctx context.Context, req RunRequest, collected *[]mediaMarker, tc providers.ToolCall, logLine func(string, ...interface{})) string {
	toolCtx, span := tracer.Start(ctx, "agent.tool_call",
		oteltrace.WithAttributes(attribute.String("tool.name", tc.Name)))
	defer span.End()

	desc, ok := l.tools.Get(tc.Name)
	if !ok {
		msg := fmt.Sprintf(`{"error": "Tool '%s' nicht gefunden"}`, tc.Name)
		logLine("TOOL %s -> %s", tc.Name, msg)
		span.SetStatus(codes.Error, "tool not found")
		return msg
	}

	args := tc.Arguments
	if args == nil {
		args = map[string]interface{}{}
		slog.Warn("tool call arguments missing or unparsable, using empty object", "tool", tc.Name)
	}

	toolCtx = tools.WithToolChannel(toolCtx, req.Channel)
	toolCtx = tools.WithToolChatID(toolCtx, req.ChatID)
	toolCtx = tools.WithToolPeerKind(toolCtx, req.PeerKind)
	toolCtx = tools.WithAllToolSettings(toolCtx, l.cfg.ToolSettings)
	if v, m := tools.ToolSettingOverride(l.cfg.ToolSettingsFor("read_image")); v != "" || m != "" {
		toolCtx = tools.WithVisionConfig(toolCtx, &tools.VisionConfig{Provider: v, Model: m})
	}
	if v, m := tools.ToolSettingOverride(l.cfg.ToolSettingsFor("create_image")); v != "" || m != "" {
		toolCtx = tools.WithImageGenConfig(toolCtx, &tools.ImageGenConfig{Provider: v, Model: m})
	}

	result := desc.Handler.Execute(toolCtx, args)
	if result == nil {
		return `{"error": "kein Ergebnis vom Werkzeug"}`
	}
	if result.Provider != "" {
		span.SetAttributes(attribute.String("tool.provider", result.Provider), attribute.String("tool.model", result.Model))
	}
	if result.Usage != nil {
		span.SetAttributes(
			attribute.Int("tool.usage.prompt_tokens", result.Usage.PromptTokens),
			attribute.Int("tool.usage.completion_tokens", result.Usage.CompletionTokens),
		)
	}

	if result.Err != nil || result.IsError {
		errMsg := result.ForLLM
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		payload, _ := json.Marshal(map[string]string{"error": errMsg})
		logLine("TOOL %s -> %s", tc.Name, string(payload))
		span.SetStatus(codes.Error, errMsg)
		return string(payload)
	}

	logLine("TOOL %s -> %s", tc.Name, result.ForLLM)

	if result.Media != nil {
		sanitized := map[string]interface{}{}
		for k, v := range result.Extra {
			sanitized[k] = v
		}
		sanitized["summary"] = mediaSummary(result.Media.Kind)
		payload, _ := json.Marshal(sanitized)
		logLine("TOOL %s -> %s (sanitized)", tc.Name, string(payload))

		if marker := mediaFinalizationMarker(result.Media); marker != "" {
			*collected = append(*collected, mediaMarker{line: marker})
		}
		return string(payload)
	}

	return result.ForLLM
}

func mediaSummary(kind tools.MediaKind) string {
	switch kind {
	case tools.MediaImage:
		return "Bild erzeugt"
	case tools.MediaAudio:
		return "Audio erzeugt"
	case tools.MediaPPTX:
		return "Praesentation erzeugt"
	case tools.MediaHTML:
		return "Bericht erzeugt"
	default:
		return "Datei erzeugt"
	}
}

// mediaFinalizationMarker renders the inline marker for a
// media payload, later rewritten by the media extractor into a stored
// file reference.
func mediaFinalizationMarker(m *tools.MediaPayload) string {
	switch m.Kind {
	case tools.MediaImage:
		mime := m.MIME
		if mime == "" {
			mime = "image/png"
		}
		return fmt.Sprintf("![Generiertes Bild](data:%s;base64,%s)", mime, m.Data)
	case tools.MediaAudio:
		mime := m.MIME
		if mime == "" {
			mime = "audio/mpeg"
		}
		return fmt.Sprintf("![audio](data:%s;base64,%s)", mime, m.Data)
	case tools.MediaHTML:
		return fmt.Sprintf("[HTML_REPORT](data:text/html;base64,%s)", m.Data)
	case tools.MediaPPTX:
		return fmt.Sprintf("[PPTX_DOWNLOAD](%s::%s)", m.Filename, m.Data)
	case tools.MediaLocalFile:
		// Data carries an absolute path for files a tool already wrote
		// to disk; the extractor copies the bytes into the file store.
		return fmt.Sprintf("[LOCAL_FILE](%s)", m.Data)
	default:
		return ""
	}
}

// Embedded media data-URI markers that may appear in previously-saved
// assistant turns. Stripped from history before it is resent to the
// provider so old base64 blobs never re-enter the prompt.
var embeddedMediaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`!\[Generiertes Bild\]\(data:[^;]+;base64,[^)]*\)`),
	regexp.MustCompile(`!\[audio\]\(data:[^;]+;base64,[^)]*\)`),
	regexp.MustCompile(`\[HTML_REPORT\]\(data:[^;]+;base64,[^)]*\)`),
	regexp.MustCompile(`\[PDF_REPORT\]\(data:[^;]+;base64,[^)]*\)`),
	regexp.MustCompile(`\[PPTX_DOWNLOAD\]\([^)]*\)`),
	regexp.MustCompile(`\[LOCAL_FILE\]\([^)]*\)`),
}

func stripEmbeddedMediaDataURIs(content string) string {
	if content == "" {
		return content
	}
	out := content
	for _, pat := range embeddedMediaPatterns {
		out = pat.ReplaceAllString(out, "[Datei in vorherigem Zug gesendet]")
	}
	return out
}
