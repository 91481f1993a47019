package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/opengunther/guenther/internal/providers"
)

// Handler is the in-process capability interface every registered tool
// implements: a structured argument map in, a tagged result out.
// External-tool and
// tool-builder proxies implement the same interface so Registry need
// not distinguish origins at call time.
type Handler interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// SettingsField describes one UI-configurable setting for a tool
// settings the UI can render and persist for this tool.
type SettingsField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Kind        string `json:"kind"` // "text", "password", "number", "select", "bool"
	Placeholder string `json:"placeholder,omitempty"`
	Default     string `json:"default,omitempty"`
}

// Descriptor is the immutable-once-registered record binding a name to a
// handler and schema.
type Descriptor struct {
	Name             string
	Description      string
	UsageHint        string
	InputSchema      map[string]interface{}
	Handler          Handler
	SettingsSchema   []SettingsField
	Origin           string // "builtin", "custom", "external:<server-id>"
	AgentOverridable bool
}

// originExternalPrefix tags proxy descriptors for a given MCP server id.
const originExternalPrefix = "external:"

// ExternalOrigin builds the origin tag for tools proxied from MCP server id.
func ExternalOrigin(serverID string) string {
	return originExternalPrefix + serverID
}

// Registry is a thread-safe name→Descriptor map. It is
// mutated from app startup, MCP server (re)connects, and the tool-builder
// success path, and read on every turn; RWMutex gives many-reader /
// single-writer semantics so a turn never observes a tool vanish
// mid-iteration (each List() call returns a stable snapshot).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register adds descriptor, replacing any prior registration under the
// same name, which is how a rebuilt custom tool replaces its old version.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.Name] = d
}

// Unregister removes a single tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// UnregisterByOrigin removes every tool whose Origin equals origin —
// used when an MCP server disconnects or a custom tool is replaced.
func (r *Registry) UnregisterByOrigin(origin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for name, d := range r.tools {
		if d.Origin == origin {
			delete(r.tools, name)
			removed++
		}
	}
	return removed
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// List returns a stable, name-sorted snapshot of all registered tools.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted list of registered tool names.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, d := range list {
		names[i] = d.Name
	}
	return names
}

// AsModelSchemas emits the OpenAI-style tool schemas for a set of
// descriptors, appending each tool's usage hint under a "Verwendung:"
// header.
func AsModelSchemas(descs []*Descriptor) []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		desc := d.Description
		if strings.TrimSpace(d.UsageHint) != "" {
			desc = fmt.Sprintf("%s\n\nVerwendung:\n%s", desc, strings.TrimSpace(d.UsageHint))
		}
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        d.Name,
				Description: desc,
				Parameters:  d.InputSchema,
			},
		})
	}
	return defs
}

// ToProviderDef emits the OpenAI-style schema for one descriptor.
func ToProviderDef(d *Descriptor) providers.ToolDefinition {
	return AsModelSchemas([]*Descriptor{d})[0]
}

// FromHandler builds a Descriptor for a builtin Handler implementation,
// the common case where description/schema/usage all come from Go code
// rather than a settings blob.
func FromHandler(h Handler, origin string, agentOverridable bool) *Descriptor {
	return &Descriptor{
		Name:             h.Name(),
		Description:      h.Description(),
		InputSchema:      h.Parameters(),
		Handler:          h,
		Origin:           origin,
		AgentOverridable: agentOverridable,
	}
}
