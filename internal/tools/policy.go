package tools

import (
	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/providers"
)

// PolicyEngine narrows a Registry's full tool set down to the ones an
// agent profile is allowed to see, applying the profile's tool allow-list
// on top of whatever discovery registered.
type PolicyEngine struct{}

// NewPolicyEngine creates a policy engine. It currently holds no state;
// it exists as a seam for a future global deny-list.
func NewPolicyEngine() *PolicyEngine {
	return &PolicyEngine{}
}

// FilterTools returns the provider-facing schemas for the tools an agent
// profile may use. An empty/nil allow list means "every registered tool".
func (pe *PolicyEngine) FilterTools(registry *Registry, profile config.AgentProfileConfig) []providers.ToolDefinition {
	all := registry.List()
	if len(profile.ToolAllow) == 0 {
		return AsModelSchemas(all)
	}

	allow := make(map[string]bool, len(profile.ToolAllow))
	for _, name := range profile.ToolAllow {
		allow[name] = true
	}

	filtered := make([]*Descriptor, 0, len(all))
	for _, d := range all {
		if allow[d.Name] {
			filtered = append(filtered, d)
		}
	}
	return AsModelSchemas(filtered)
}
