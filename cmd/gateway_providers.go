package cmd

import (
	"log/slog"

	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/providers"
)

// registerProviders builds a providers.Registry from cfg.Providers, skipping
// disabled entries and entries missing an API key (local backends such as
// Ollama/LM Studio are the exception: they run keyless).
func registerProviders(registry *providers.Registry, cfg *config.Config) *providers.Registry {
	cfg.RLock()
	entries := make([]providers.ProviderEntrySource, 0, len(cfg.Providers))
	for id, e := range cfg.Providers {
		entries = append(entries, providers.ProviderEntrySource{
			ID:           id,
			Kind:         e.Kind,
			BaseURL:      e.BaseURL,
			APIKey:       e.APIKey,
			DefaultModel: e.DefaultModel,
			Enabled:      e.Enabled,
		})
	}
	cfg.RUnlock()

	built := providers.BuildRegistry(entries)
	for _, name := range built.Names() {
		p, err := built.Get(name)
		if err != nil {
			continue
		}
		registry.Register(name, p)
		slog.Info("registered provider", "name", name)
	}
	return registry
}
