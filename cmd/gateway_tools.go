package cmd

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/opengunther/guenther/internal/bus"
	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/providers"
	"github.com/opengunther/guenther/internal/tools"
)

// registerBuiltinTools populates the registry with the compiled-in tool
// set. users may be nil; send_telegram then only accepts raw chat ids.
func registerBuiltinTools(reg *tools.Registry, cfg *config.Config, msgBus *bus.MessageBus, provReg *providers.Registry, users tools.UserResolver, dataDir string) {
	register := func(h tools.Handler, agentOverridable bool) {
		reg.Register(tools.FromHandler(h, "builtin", agentOverridable))
	}

	register(tools.NewGetCurrentTimeTool(), false)
	register(tools.NewRollDiceTool(), false)

	register(tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey:  cfg.Tools.Web.BraveAPIKey,
		BraveEnabled: cfg.Tools.Web.BraveEnabled,
		DDGEnabled:   cfg.Tools.Web.DDGEnabled,
		CacheTTL:     15 * time.Minute,
	}), false)
	register(tools.NewWebFetchTool(tools.WebFetchConfig{}), false)

	register(tools.NewCreateImageTool(provReg), true)
	register(tools.NewReadImageTool(provReg), true)

	workspace := filepath.Join(dataDir, "workspace")
	register(tools.NewReadFileTool(workspace, true), false)
	if cfg.Tools.Shell.Enabled {
		register(tools.NewExecTool(workspace, true), false)
		slog.Info("shell tool enabled", "workspace", workspace)
	}

	register(tools.NewSendTelegramTool(msgBus, users), false)

	slog.Info("builtin tools registered", "count", len(reg.Names()))
}
