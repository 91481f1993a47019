package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults: OpenRouter as the
// active provider, local backends present but disabled.
func Default() *Config {
	return &Config{
		Default:     "openrouter",
		Model:       "openai/gpt-4o-mini",
		Temperature: 0.5,
		Providers: ProvidersConfig{
			"openrouter": {Name: "OpenRouter", BaseURL: "https://openrouter.ai/api/v1", DefaultModel: "openai/gpt-4o-mini", Enabled: true},
			"ollama":     {Name: "Ollama", BaseURL: "http://localhost:11434/v1", DefaultModel: "llama3.1", Enabled: false},
			"lmstudio":   {Name: "LM Studio", BaseURL: "http://localhost:1234/v1", DefaultModel: "local-model", Enabled: false},
			"anthropic":  {Name: "Anthropic", Kind: "anthropic", DefaultModel: "claude-sonnet-4-5-20250929", Enabled: false},
			"openai":     {Name: "OpenAI", BaseURL: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini", Enabled: false},
			"gemini":     {Name: "Gemini", BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", DefaultModel: "gemini-2.0-flash", Enabled: false},
		},
		ToolSettings: map[string]ToolSetting{},
		Tools: ToolsConfig{
			Web: WebToolsConfig{DDGEnabled: true},
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            8790,
			MaxMessageChars: 4096,
		},
		Sessions: SessionsConfig{
			Storage: "~/.guenther/sessions",
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "~/.guenther/guenther.db",
		},
		Agents: map[string]AgentProfileConfig{
			DefaultAgentID: {ID: DefaultAgentID, DisplayName: "Günther", Default: true},
		},
	}
}

// Load reads config from a JSON5 file, then overlays environment variables.
// A missing file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.migrateLegacyKeys()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// migrateLegacyKeys fills in any provider entries a hand-edited file omits.
// A bare API key outside the providers map is not read.
func (c *Config) migrateLegacyKeys() {
	if c.Providers == nil {
		c.Providers = ProvidersConfig{}
	}
	for id, def := range Default().Providers {
		if _, ok := c.Providers[id]; !ok {
			c.Providers[id] = def
		}
	}
}

// applyEnvOverrides overlays GUENTHER_-prefixed env vars onto the config.
// Env vars always win over file values, since they represent the
// deployment's secret-injection mechanism (container env, systemd unit).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if or, ok := c.Providers["openrouter"]; ok {
		envStr("GUENTHER_OPENROUTER_API_KEY", &or.APIKey)
		c.Providers["openrouter"] = or
	}
	envStr("GUENTHER_TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.BotToken)
	envStr("GUENTHER_DISCORD_BOT_TOKEN", &c.Channels.Discord.BotToken)
	envStr("GUENTHER_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("GUENTHER_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("GUENTHER_BRAVE_API_KEY", &c.Tools.Web.BraveAPIKey)

	if c.Channels.Telegram.BotToken != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.BotToken != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Tools.Web.BraveAPIKey != "" {
		c.Tools.Web.BraveEnabled = true
	}

	envStr("GUENTHER_HOST", &c.Gateway.Host)
	if v := os.Getenv("GUENTHER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	envStr("GUENTHER_DB_DRIVER", &c.Database.Driver)

	if v := os.Getenv("GUENTHER_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	envStr("GUENTHER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
}

// ApplyEnvOverrides re-applies environment overrides. Call after mutating
// config in-process (e.g. from the settings API) to restore secrets that
// intentionally live only in the environment, not on disk.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Save writes the config to path atomically: marshal, write to a temp file
// in the same directory, then rename over the target. This guarantees
// readers never observe a partially-written config file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Hash returns a short SHA-256 digest of the config, used by the settings
// API for optimistic-concurrency checks (reject a save if the config
// changed underneath the editor).
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ResolveAgent returns the effective agent profile for id, falling back to
// the configured default agent, then to a bare default profile.
func (c *Config) ResolveAgent(id string) AgentProfileConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id != "" {
		if p, ok := c.Agents[id]; ok {
			return p
		}
	}
	for _, p := range c.Agents {
		if p.Default {
			return p
		}
	}
	return AgentProfileConfig{ID: DefaultAgentID, DisplayName: "Günther"}
}

// ResolveDefaultAgentID returns the id of the agent profile marked default.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, p := range c.Agents {
		if p.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ToolSettingsFor returns the stored settings blob for a tool, or nil.
func (c *Config) ToolSettingsFor(name string) ToolSetting {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ToolSettings[name]
}

// SaveToolSettings stores a tool's settings blob in-memory; callers persist
// via config.Save afterward.
func (c *Config) SaveToolSettings(name string, settings ToolSetting) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ToolSettings == nil {
		c.ToolSettings = map[string]ToolSetting{}
	}
	c.ToolSettings[name] = settings
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
