package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/scheduler"
	"github.com/opengunther/guenther/internal/store"
	"github.com/opengunther/guenther/pkg/protocol"
)

// ChannelLister is the slice of the channel manager the settings RPC
// surface needs.
type ChannelLister interface {
	Names() []string
	GetStatus() map[string]interface{}
}

// Deps are the optional settings-surface dependencies. A nil Channels,
// Usage or Scheduler makes the methods that need it answer 503; without a
// Scheduler, autoprompt edits are saved but not rescheduled, and without
// Runs, autoprompt listings carry no run state. An empty ConfigPath makes
// every config write fail.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Usage      store.UsageStore
	Runs       store.AutopromptRunStore
	Channels   ChannelLister
	ConfigPath string
}

// SetDeps wires the settings-surface dependencies after construction,
// since the scheduler itself needs the agent loop that needs the server's
// config first.
func (s *Server) SetDeps(deps Deps) { s.deps = deps }

// dispatchSettings handles the settings/admin RPC methods. Returns nil
// when the method is not a settings method so dispatch can fall through.
func (c *Client) dispatchSettings(ctx context.Context, req protocol.Request) *protocol.Response {
	switch req.Method {
	case protocol.MethodConfigGet:
		return c.handleConfigGet(req)
	case protocol.MethodConfigPatch, protocol.MethodConfigApply:
		return c.handleConfigPatch(req)
	case protocol.MethodChannelsList:
		if c.server.deps.Channels == nil {
			return protocol.NewErrorResponse(req.ID, 503, "channels unavailable")
		}
		return protocol.NewResultResponse(req.ID, c.server.deps.Channels.Names())
	case protocol.MethodChannelsStatus:
		if c.server.deps.Channels == nil {
			return protocol.NewErrorResponse(req.ID, 503, "channels unavailable")
		}
		return protocol.NewResultResponse(req.ID, c.server.deps.Channels.GetStatus())
	case protocol.MethodAutopromptList:
		return c.handleAutopromptList(req)
	case protocol.MethodAutopromptCreate:
		return c.handleAutopromptUpsert(req, true)
	case protocol.MethodAutopromptUpdate:
		return c.handleAutopromptUpsert(req, false)
	case protocol.MethodAutopromptDelete:
		return c.handleAutopromptDelete(req)
	case protocol.MethodAutopromptToggle:
		return c.handleAutopromptToggle(req)
	case protocol.MethodAutopromptRun:
		return c.handleAutopromptRun(ctx, req)
	case protocol.MethodAgentsList:
		return c.handleAgentsList(req)
	case protocol.MethodAgentsUpsert:
		return c.handleAgentsUpsert(req)
	case protocol.MethodAgentsDelete:
		return c.handleAgentsDelete(req)
	case protocol.MethodProvidersList:
		return c.handleProvidersList(req)
	case protocol.MethodProvidersUpsert:
		return c.handleProvidersUpsert(req)
	case protocol.MethodProvidersDelete:
		return c.handleProvidersDelete(req)
	case protocol.MethodWebhooksList:
		return c.handleWebhooksList(req)
	case protocol.MethodWebhooksCreate:
		return c.handleWebhooksCreate(req)
	case protocol.MethodWebhooksDelete:
		return c.handleWebhooksDelete(req)
	case protocol.MethodUsageGet:
		return c.handleUsageGet(req)
	case protocol.MethodUsageSummary:
		return c.handleUsageSummary(req)
	}
	return nil
}

// secretMask replaces every secret in config views sent to clients.
// Secrets are write-only through the API: a patch carrying the mask
// leaves the stored value untouched.
const secretMask = "••••••••"

func (c *Client) handleConfigGet(req protocol.Request) *protocol.Response {
	cfg := c.server.cfg
	cfg.RLock()
	view := map[string]interface{}{
		"defaultProvider": cfg.Default,
		"model":           cfg.Model,
		"temperature":     cfg.Temperature,
		"providers":       maskProviders(cfg.Providers),
		"agents":          cfg.Agents,
		"toolSettings":    cfg.ToolSettings,
		"hash":            "",
	}
	cfg.RUnlock()
	view["hash"] = cfg.Hash()
	return protocol.NewResultResponse(req.ID, view)
}

func maskProviders(in config.ProvidersConfig) map[string]config.ProviderEntry {
	out := make(map[string]config.ProviderEntry, len(in))
	for id, e := range in {
		if e.APIKey != "" {
			e.APIKey = secretMask
		}
		out[id] = e
	}
	return out
}

type configPatchParams struct {
	DefaultProvider *string                        `json:"defaultProvider,omitempty"`
	Model           *string                        `json:"model,omitempty"`
	Temperature     *float64                       `json:"temperature,omitempty"`
	ToolSettings    map[string]config.ToolSetting  `json:"toolSettings,omitempty"`
	Hash            string                         `json:"hash,omitempty"`
}

func (c *Client) handleConfigPatch(req protocol.Request) *protocol.Response {
	var p configPatchParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return protocol.NewErrorResponse(req.ID, 400, "invalid params")
	}
	cfg := c.server.cfg
	if p.Hash != "" && p.Hash != cfg.Hash() {
		return protocol.NewErrorResponse(req.ID, 409, "config changed, reload and retry")
	}

	cfg.Lock()
	if p.DefaultProvider != nil {
		cfg.Default = *p.DefaultProvider
	}
	if p.Model != nil {
		cfg.Model = *p.Model
	}
	if p.Temperature != nil {
		cfg.Temperature = *p.Temperature
	}
	for name, settings := range p.ToolSettings {
		if cfg.ToolSettings == nil {
			cfg.ToolSettings = map[string]config.ToolSetting{}
		}
		cfg.ToolSettings[name] = settings
	}
	cfg.Unlock()

	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	return protocol.NewResultResponse(req.ID, map[string]interface{}{"ok": true, "hash": cfg.Hash()})
}

func (s *Server) saveConfig() error {
	if s.deps.ConfigPath == "" {
		return fmt.Errorf("config path not wired")
	}
	return config.Save(s.deps.ConfigPath, s.cfg)
}

// autopromptView joins the config record with its persisted run state.
type autopromptView struct {
	config.AutopromptConfig
	LastRun   string `json:"lastRun,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

func (c *Client) handleAutopromptList(req protocol.Request) *protocol.Response {
	cfg := c.server.cfg
	cfg.RLock()
	records := append([]config.AutopromptConfig(nil), cfg.Autoprompts...)
	cfg.RUnlock()

	views := make([]autopromptView, 0, len(records))
	for _, r := range records {
		v := autopromptView{AutopromptConfig: r}
		if c.server.deps.Runs != nil {
			if ranAt, errMsg, ok := c.server.deps.Runs.LastRun(r.ID); ok {
				v.LastRun = ranAt.UTC().Format(time.RFC3339)
				v.LastError = errMsg
			}
		}
		views = append(views, v)
	}
	return protocol.NewResultResponse(req.ID, views)
}

func (c *Client) handleAutopromptUpsert(req protocol.Request, create bool) *protocol.Response {
	var record config.AutopromptConfig
	if err := json.Unmarshal(req.Params, &record); err != nil {
		return protocol.NewErrorResponse(req.ID, 400, "invalid params")
	}
	if record.Name == "" || record.Prompt == "" || record.ScheduleType == "" {
		return protocol.NewErrorResponse(req.ID, 400, "name, prompt and scheduleType required")
	}
	if create {
		record.ID = uuid.NewString()
	} else if record.ID == "" {
		return protocol.NewErrorResponse(req.ID, 400, "id required")
	}

	cfg := c.server.cfg
	cfg.Lock()
	if create {
		cfg.Autoprompts = append(cfg.Autoprompts, record)
	} else {
		found := false
		for i, r := range cfg.Autoprompts {
			if r.ID == record.ID {
				cfg.Autoprompts[i] = record
				found = true
				break
			}
		}
		if !found {
			cfg.Unlock()
			return protocol.NewErrorResponse(req.ID, 404, "autoprompt not found")
		}
	}
	cfg.Unlock()

	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	if c.server.deps.Scheduler != nil {
		c.server.deps.Scheduler.ReloadOne(record.ID)
	}
	return protocol.NewResultResponse(req.ID, record)
}

func (c *Client) handleAutopromptDelete(req protocol.Request) *protocol.Response {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		return protocol.NewErrorResponse(req.ID, 400, "id required")
	}

	cfg := c.server.cfg
	cfg.Lock()
	kept := cfg.Autoprompts[:0]
	removed := false
	for _, r := range cfg.Autoprompts {
		if r.ID == p.ID {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	cfg.Autoprompts = kept
	cfg.Unlock()

	if !removed {
		return protocol.NewErrorResponse(req.ID, 404, "autoprompt not found")
	}
	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	if c.server.deps.Scheduler != nil {
		c.server.deps.Scheduler.ReloadOne(p.ID)
	}
	return protocol.NewResultResponse(req.ID, map[string]bool{"ok": true})
}

func (c *Client) handleAutopromptToggle(req protocol.Request) *protocol.Response {
	var p struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		return protocol.NewErrorResponse(req.ID, 400, "id required")
	}

	cfg := c.server.cfg
	cfg.Lock()
	found := false
	for i, r := range cfg.Autoprompts {
		if r.ID == p.ID {
			cfg.Autoprompts[i].Enabled = p.Enabled
			found = true
			break
		}
	}
	cfg.Unlock()

	if !found {
		return protocol.NewErrorResponse(req.ID, 404, "autoprompt not found")
	}
	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	if c.server.deps.Scheduler != nil {
		c.server.deps.Scheduler.ReloadOne(p.ID)
	}
	return protocol.NewResultResponse(req.ID, map[string]bool{"ok": true})
}

func (c *Client) handleAutopromptRun(ctx context.Context, req protocol.Request) *protocol.Response {
	if c.server.deps.Scheduler == nil {
		return protocol.NewErrorResponse(req.ID, 503, "scheduler unavailable")
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		return protocol.NewErrorResponse(req.ID, 400, "id required")
	}
	if err := c.server.deps.Scheduler.RunNow(ctx, p.ID); err != nil {
		return protocol.NewErrorResponse(req.ID, 404, err.Error())
	}
	return protocol.NewResultResponse(req.ID, map[string]bool{"started": true})
}

func (c *Client) handleAgentsList(req protocol.Request) *protocol.Response {
	cfg := c.server.cfg
	cfg.RLock()
	defer cfg.RUnlock()
	agents := make([]config.AgentProfileConfig, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents = append(agents, a)
	}
	return protocol.NewResultResponse(req.ID, agents)
}

// handleAgentsUpsert creates or replaces one agent profile. A profile
// marked default demotes the previous default so exactly one remains.
func (c *Client) handleAgentsUpsert(req protocol.Request) *protocol.Response {
	var profile config.AgentProfileConfig
	if err := json.Unmarshal(req.Params, &profile); err != nil {
		return protocol.NewErrorResponse(req.ID, 400, "invalid params")
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if profile.DisplayName == "" {
		return protocol.NewErrorResponse(req.ID, 400, "displayName required")
	}

	cfg := c.server.cfg
	cfg.Lock()
	if cfg.Agents == nil {
		cfg.Agents = map[string]config.AgentProfileConfig{}
	}
	if profile.Default {
		for id, a := range cfg.Agents {
			if a.Default && id != profile.ID {
				a.Default = false
				cfg.Agents[id] = a
			}
		}
	}
	cfg.Agents[profile.ID] = profile
	cfg.Unlock()

	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	return protocol.NewResultResponse(req.ID, profile)
}

func (c *Client) handleAgentsDelete(req protocol.Request) *protocol.Response {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		return protocol.NewErrorResponse(req.ID, 400, "id required")
	}

	cfg := c.server.cfg
	cfg.Lock()
	profile, ok := cfg.Agents[p.ID]
	if ok && !profile.Default {
		delete(cfg.Agents, p.ID)
	}
	cfg.Unlock()

	if !ok {
		return protocol.NewErrorResponse(req.ID, 404, "agent not found")
	}
	if profile.Default {
		return protocol.NewErrorResponse(req.ID, 400, "cannot delete the default agent")
	}
	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	return protocol.NewResultResponse(req.ID, map[string]bool{"ok": true})
}

func (c *Client) handleProvidersList(req protocol.Request) *protocol.Response {
	cfg := c.server.cfg
	cfg.RLock()
	defer cfg.RUnlock()
	return protocol.NewResultResponse(req.ID, map[string]interface{}{
		"providers":       maskProviders(cfg.Providers),
		"defaultProvider": cfg.Default,
	})
}

type providerUpsertParams struct {
	ID    string                `json:"id"`
	Entry config.ProviderEntry  `json:"entry"`
	// MakeDefault additionally switches Config.Default to this entry.
	MakeDefault bool `json:"makeDefault,omitempty"`
}

// handleProvidersUpsert creates or edits one provider entry. An API key
// arriving as the display mask means "keep the stored key" — secrets are
// write-only through this surface.
func (c *Client) handleProvidersUpsert(req protocol.Request) *protocol.Response {
	var p providerUpsertParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		return protocol.NewErrorResponse(req.ID, 400, "id required")
	}

	cfg := c.server.cfg
	cfg.Lock()
	if cfg.Providers == nil {
		cfg.Providers = config.ProvidersConfig{}
	}
	if prev, ok := cfg.Providers[p.ID]; ok && (p.Entry.APIKey == secretMask || p.Entry.APIKey == "") {
		p.Entry.APIKey = prev.APIKey
	}
	cfg.Providers[p.ID] = p.Entry
	if p.MakeDefault {
		cfg.Default = p.ID
	}
	cfg.Unlock()

	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	masked := p.Entry
	if masked.APIKey != "" {
		masked.APIKey = secretMask
	}
	return protocol.NewResultResponse(req.ID, masked)
}

func (c *Client) handleProvidersDelete(req protocol.Request) *protocol.Response {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		return protocol.NewErrorResponse(req.ID, 400, "id required")
	}

	cfg := c.server.cfg
	cfg.Lock()
	_, ok := cfg.Providers[p.ID]
	isDefault := cfg.Default == p.ID
	if ok && !isDefault {
		delete(cfg.Providers, p.ID)
	}
	cfg.Unlock()

	if !ok {
		return protocol.NewErrorResponse(req.ID, 404, "provider not found")
	}
	if isDefault {
		return protocol.NewErrorResponse(req.ID, 400, "cannot delete the active default provider")
	}
	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	return protocol.NewResultResponse(req.ID, map[string]bool{"ok": true})
}

// webhookView masks the token the way API keys are masked: enough prefix
// and suffix to recognize it, never enough to replay it.
type webhookView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Token     string `json:"token"`
	ChatID    string `json:"chatId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func maskToken(token string) string {
	if len(token) <= 10 {
		return secretMask
	}
	return token[:6] + "..." + token[len(token)-4:]
}

func (c *Client) handleWebhooksList(req protocol.Request) *protocol.Response {
	cfg := c.server.cfg
	cfg.RLock()
	defer cfg.RUnlock()
	views := make([]webhookView, 0, len(cfg.Webhooks))
	for _, h := range cfg.Webhooks {
		views = append(views, webhookView{
			ID: h.ID, Name: h.Name, Token: maskToken(h.Token),
			ChatID: h.ChatID, AgentID: h.AgentID, CreatedAt: h.CreatedAt,
		})
	}
	return protocol.NewResultResponse(req.ID, views)
}

func (c *Client) handleWebhooksCreate(req protocol.Request) *protocol.Response {
	var p struct {
		Name    string `json:"name"`
		ChatID  string `json:"chatId,omitempty"`
		AgentID string `json:"agentId,omitempty"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
		return protocol.NewErrorResponse(req.ID, 400, "name required")
	}

	tokenBytes := make([]byte, 16)
	if _, err := rand.Read(tokenBytes); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, "token generation failed")
	}
	hook := config.WebhookConfig{
		ID:        uuid.NewString(),
		Name:      p.Name,
		Token:     "whk_" + hex.EncodeToString(tokenBytes),
		ChatID:    p.ChatID,
		AgentID:   p.AgentID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	cfg := c.server.cfg
	cfg.Lock()
	cfg.Webhooks = append(cfg.Webhooks, hook)
	cfg.Unlock()

	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	// The full token is returned exactly once, at creation.
	return protocol.NewResultResponse(req.ID, hook)
}

func (c *Client) handleWebhooksDelete(req protocol.Request) *protocol.Response {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		return protocol.NewErrorResponse(req.ID, 400, "id required")
	}

	cfg := c.server.cfg
	cfg.Lock()
	kept := cfg.Webhooks[:0]
	removed := false
	for _, h := range cfg.Webhooks {
		if h.ID == p.ID {
			removed = true
			continue
		}
		kept = append(kept, h)
	}
	cfg.Webhooks = kept
	cfg.Unlock()

	if !removed {
		return protocol.NewErrorResponse(req.ID, 404, "webhook not found")
	}
	if err := c.server.saveConfig(); err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	return protocol.NewResultResponse(req.ID, map[string]bool{"ok": true})
}

type usageParams struct {
	AgentID  string `json:"agentId,omitempty"`
	Provider string `json:"provider,omitempty"`
	Since    string `json:"since,omitempty"` // RFC 3339
}

func (p usageParams) query() store.UsageQuery {
	q := store.UsageQuery{AgentID: p.AgentID, Provider: p.Provider}
	if p.Since != "" {
		if t, err := time.Parse(time.RFC3339, p.Since); err == nil {
			q.Since = t
		}
	}
	return q
}

func (c *Client) handleUsageGet(req protocol.Request) *protocol.Response {
	if c.server.deps.Usage == nil {
		return protocol.NewErrorResponse(req.ID, 503, "usage store unavailable")
	}
	var p usageParams
	_ = json.Unmarshal(req.Params, &p)
	entries, err := c.server.deps.Usage.Query(p.query())
	if err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	return protocol.NewResultResponse(req.ID, entries)
}

func (c *Client) handleUsageSummary(req protocol.Request) *protocol.Response {
	if c.server.deps.Usage == nil {
		return protocol.NewErrorResponse(req.ID, 503, "usage store unavailable")
	}
	var p usageParams
	_ = json.Unmarshal(req.Params, &p)
	totals, err := c.server.deps.Usage.TotalsByDay(p.query())
	if err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	return protocol.NewResultResponse(req.ID, totals)
}
