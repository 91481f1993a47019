// Package config holds the mutable runtime settings for the agent server:
// providers, channels, agent profiles, webhooks, autoprompts and tool
// settings. A single *Config is loaded at boot, guarded by a mutex, and
// saved back atomically whenever the settings API (or an operator editing
// the JSON5 file on disk) changes it.
package config

import "sync"

// DefaultAgentID names the agent profile used when no override applies.
const DefaultAgentID = "default"

// Config is the top-level settings object: providers and model defaults,
// tool settings, channels, agent profiles, webhooks, and autoprompts.
type Config struct {
	mu sync.RWMutex `json:"-"`

	Providers        ProvidersConfig        `json:"providers"`
	Default          string                 `json:"defaultProvider"`
	Model            string                 `json:"model"`
	Temperature      float64                `json:"temperature"`
	STTModel         string                 `json:"sttModel"`
	TTSModel         string                 `json:"ttsModel"`
	ImageGenModel    string                 `json:"imageGenModel"`
	UseOpenAIWhisper bool                   `json:"useOpenAIWhisper"`

	MCPServers   []MCPServerConfig      `json:"mcpServers"`
	ToolSettings map[string]ToolSetting `json:"toolSettings"`
	Tools        ToolsConfig            `json:"tools"`

	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Sessions SessionsConfig `json:"sessions"`
	Database DatabaseConfig `json:"database"`

	Agents      map[string]AgentProfileConfig `json:"agents"`
	Webhooks    []WebhookConfig               `json:"webhooks"`
	Autoprompts []AutopromptConfig            `json:"autoprompts"`

	Telemetry TelemetryConfig `json:"telemetry"`
}

// ProvidersConfig holds one entry per configured backend, keyed by provider
// id ("openrouter", "ollama", "lmstudio", "anthropic", or a custom id).
type ProvidersConfig map[string]ProviderEntry

type ProviderEntry struct {
	Name         string `json:"name"`
	Kind         string `json:"kind,omitempty"` // "openai-compatible" (default) or "anthropic"
	BaseURL      string `json:"baseUrl"`
	APIKey       string `json:"apiKey"`
	DefaultModel string `json:"defaultModel,omitempty"`
	Enabled      bool   `json:"enabled"`
}

type MCPServerConfig struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Transport string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Enabled   bool              `json:"enabled"`
}

// ToolSetting is an arbitrary, tool-specific settings blob (API keys,
// feature flags) keyed by tool name in Config.ToolSettings.
type ToolSetting map[string]interface{}

type ToolsConfig struct {
	Web   WebToolsConfig  `json:"web"`
	Shell ShellToolConfig `json:"shell"`
}

type WebToolsConfig struct {
	BraveAPIKey  string `json:"braveApiKey"`
	BraveEnabled bool   `json:"braveEnabled"`
	DDGEnabled   bool   `json:"ddgEnabled"`
}

type ShellToolConfig struct {
	Enabled bool     `json:"enabled"`
	Allow   []string `json:"allow,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled        bool     `json:"enabled"`
	BotToken       string   `json:"botToken"`
	AllowFrom      []string `json:"allowFrom"`
	Proxy          string   `json:"proxy,omitempty"`
	DMPolicy       string   `json:"dmPolicy,omitempty"`   // "open"|"allowlist"|"disabled", default "allowlist"
	GroupPolicy    string   `json:"groupPolicy,omitempty"`
	RequireMention *bool    `json:"requireMention,omitempty"`
}

type DiscordConfig struct {
	Enabled        bool     `json:"enabled"`
	BotToken       string   `json:"botToken"`
	AllowFrom      []string `json:"allowFrom"`
	DMPolicy       string   `json:"dmPolicy,omitempty"`
	GroupPolicy    string   `json:"groupPolicy,omitempty"`
	RequireMention *bool    `json:"requireMention,omitempty"`
}

type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"token"`
	OwnerIDs        []string `json:"ownerIds"`
	MaxMessageChars int      `json:"maxMessageChars"`
	RateLimitRPM    int      `json:"rateLimitRpm,omitempty"`    // 0 = disabled
	AllowedOrigins  []string `json:"allowedOrigins,omitempty"`  // empty = allow all
}

type SessionsConfig struct {
	Storage string `json:"storage"`
}

type DatabaseConfig struct {
	Driver      string `json:"driver"` // "sqlite" or "postgres"
	SQLitePath  string `json:"sqlitePath"`
	PostgresDSN string `json:"postgresDsn"`
}

// AgentProfileConfig is the on-disk shape of an AgentProfile.
type AgentProfileConfig struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"displayName"`
	SystemPrompt string   `json:"systemPrompt"`
	ProviderID   string   `json:"providerId,omitempty"`
	Model        string   `json:"model,omitempty"`
	ToolAllow    []string `json:"toolAllow,omitempty"`
	Default      bool     `json:"default,omitempty"`
}

// WebhookConfig is the on-disk shape of a Webhook.
type WebhookConfig struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Token     string `json:"token"`
	ChatID    string `json:"chatId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// AutopromptConfig is the on-disk shape of an AutopromptRecord.
// Exactly one of IntervalMinutes/DailyTime/WeeklyDay+WeeklyTime is
// meaningful, selected by ScheduleType.
type AutopromptConfig struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Prompt         string `json:"prompt"`
	Enabled        bool   `json:"enabled"`
	ScheduleType   string `json:"scheduleType"` // "interval", "daily", "weekly"
	IntervalMinutes int   `json:"intervalMinutes,omitempty"`
	DailyTime      string `json:"dailyTime,omitempty"`  // "HH:MM" UTC
	WeeklyDay      int    `json:"weeklyDay,omitempty"`  // 0=Monday..6=Sunday
	WeeklyTime     string `json:"weeklyTime,omitempty"` // "HH:MM" UTC
	AgentID        string `json:"agentId,omitempty"`
	SaveToChat     bool   `json:"saveToChat"`
	ChatID         string `json:"chatId,omitempty"`
	LastRun        string `json:"lastRun,omitempty"`
	LastError      string `json:"lastError,omitempty"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Protocol    string `json:"protocol"`
	ServiceName string `json:"serviceName"`
	Insecure    bool   `json:"insecure"`
}

// Lock/Unlock expose the config's mutex to callers that need to read or
// mutate several fields atomically (e.g. the settings HTTP handlers).
func (c *Config) Lock()    { c.mu.Lock() }
func (c *Config) Unlock()  { c.mu.Unlock() }
func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }
