package providers

import (
	"fmt"
	"strings"
	"sync"
)

// Registry is a thread-safe name→Provider map, built once at startup from
// config.ProvidersConfig and consulted on every turn for provider/model
// resolution.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider under name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns the named provider, or an error if it isn't registered.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Names returns every registered provider id, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// ProviderEntrySource is the subset of config.ProviderEntry the registry
// builder needs; kept narrow so this package never imports internal/config
// (config imports nothing from providers, but providers staying
// config-agnostic keeps it reusable from the tool-builder sandbox too).
type ProviderEntrySource struct {
	ID           string
	Kind         string
	BaseURL      string
	APIKey       string
	DefaultModel string
	Enabled      bool
}

// BuildRegistry constructs a Registry from the resolved provider entries,
// skipping disabled ones and ones missing an API key (local backends like
// Ollama/LM Studio are the exception: they run keyless).
func BuildRegistry(entries []ProviderEntrySource) *Registry {
	reg := NewRegistry()
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		switch e.Kind {
		case "anthropic":
			if e.APIKey == "" {
				continue
			}
			opts := []AnthropicOption{}
			if e.DefaultModel != "" {
				opts = append(opts, WithAnthropicModel(e.DefaultModel))
			}
			if e.BaseURL != "" {
				opts = append(opts, WithAnthropicBaseURL(e.BaseURL))
			}
			reg.Register(e.ID, NewAnthropicProvider(e.APIKey, opts...))
		default:
			if e.APIKey == "" && !strings.Contains(e.BaseURL, "localhost") && !strings.Contains(e.BaseURL, "127.0.0.1") {
				continue
			}
			reg.Register(e.ID, NewOpenAIProvider(e.ID, e.APIKey, e.BaseURL, e.DefaultModel))
		}
	}
	return reg
}
