package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/opengunther/guenther/internal/agent"
	"github.com/opengunther/guenther/internal/bus"
	"github.com/opengunther/guenther/internal/channels"
	"github.com/opengunther/guenther/internal/channels/discord"
	"github.com/opengunther/guenther/internal/channels/telegram"
	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/gateway"
	mcpbridge "github.com/opengunther/guenther/internal/mcp"
	"github.com/opengunther/guenther/internal/providers"
	"github.com/opengunther/guenther/internal/scheduler"
	"github.com/opengunther/guenther/internal/sessions"
	"github.com/opengunther/guenther/internal/store"
	"github.com/opengunther/guenther/internal/store/localfs"
	"github.com/opengunther/guenther/internal/store/pg"
	"github.com/opengunther/guenther/internal/store/sqlite"
	"github.com/opengunther/guenther/internal/stt"
	"github.com/opengunther/guenther/internal/toolbuilder"
	"github.com/opengunther/guenther/internal/tools"
	"github.com/opengunther/guenther/internal/webhook"
	"github.com/opengunther/guenther/pkg/protocol"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	// Text handler with --verbose, JSON handler otherwise.
	var handler slog.Handler
	if verbose {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry := initTelemetry(cfg)
	defer shutdownTelemetry()

	dataDir := config.ExpandHome("~/.guenther")
	os.MkdirAll(dataDir, 0755)

	msgBus := bus.NewMessageBus()

	providerRegistry := providers.NewRegistry()
	registerProviders(providerRegistry, cfg)

	// Persistence: chat rows, usage log, autoprompt runs. sqlite is the
	// default; Postgres serves deployments that outgrow one file.
	var (
		chatStore store.ChatStore
		usage     store.UsageStore
		runs      store.AutopromptRunStore
		closeDB   func() error
	)
	switch cfg.Database.Driver {
	case "postgres":
		pgStore, err := pg.Open(cfg.Database.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		chatStore, usage, runs, closeDB = pgStore, pgStore, pgStore, pgStore.Close
	default:
		sqliteStore, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			slog.Error("failed to open sqlite", "error", err)
			os.Exit(1)
		}
		chatStore, usage, runs, closeDB = sqliteStore, sqliteStore, sqliteStore, sqliteStore.Close
	}
	defer closeDB()

	fileStore, err := localfs.New(filepath.Join(dataDir, "files"))
	if err != nil {
		slog.Error("failed to open file store", "error", err)
		os.Exit(1)
	}

	sessionManager := sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage))

	var userDirectory *telegram.UserDirectory
	if d, err := telegram.NewUserDirectory(telegram.DefaultUserDirectoryPath(dataDir)); err != nil {
		slog.Warn("telegram user directory unavailable", "error", err)
	} else {
		userDirectory = d
	}
	var userResolver tools.UserResolver
	if userDirectory != nil {
		userResolver = userDirectory
	}

	// Tool registry: builtins, then installed custom tools, then MCP
	// servers. A custom tool replaces a builtin of the same name; MCP
	// tools whose names are already taken are skipped.
	toolsReg := tools.NewRegistry()
	registerBuiltinTools(toolsReg, cfg, msgBus, providerRegistry, userResolver, dataDir)

	customToolsDir := filepath.Join(dataDir, "custom_tools")
	customTools := toolbuilder.NewManager(toolsReg, customToolsDir)
	customTools.LoadAll(context.Background())
	defer customTools.StopAll()

	builder := toolbuilder.New(providerRegistry, cfg, toolsReg, customToolsDir, customTools)
	toolsReg.Register(tools.FromHandler(toolbuilder.NewBuildTool(builder), "builtin", false))

	mcpManager := mcpbridge.NewManager(toolsReg, cfg.MCPServers)
	if err := mcpManager.Start(context.Background()); err != nil {
		slog.Warn("mcp manager start", "error", err)
	}
	defer mcpManager.Stop()

	loop := agent.NewLoop(agent.LoopConfig{
		Providers:       providerRegistry,
		Tools:           toolsReg,
		Sessions:        sessionManager,
		Config:          cfg,
		EventPub:        msgBus,
		Files:           fileStore,
		MaxMessageChars: cfg.Gateway.MaxMessageChars,
	})

	// Scheduler replays autoprompts through the same loop.
	sched := scheduler.New(cfg, makeAutopromptRunFunc(loop, msgBus, cfg, chatStore), runs, busBroadcaster{msgBus})

	server := gateway.NewServer(cfg, msgBus, loop, sessionManager, toolsReg)

	channelMgr := channels.NewManager(msgBus)

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken != "" {
		var tgOpts []telegram.Option
		if userDirectory != nil {
			tgOpts = append(tgOpts, telegram.WithUserDirectory(userDirectory))
		}
		if transcriber := buildTranscriber(cfg); transcriber != nil {
			tgOpts = append(tgOpts, telegram.WithTranscriber(transcriber))
		}
		tgOpts = append(tgOpts, telegram.WithScratchDir(filepath.Join(dataDir, "inbox")))

		tg, err := telegram.New(cfg.Channels.Telegram, msgBus, tgOpts...)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			channelMgr.RegisterChannel("telegram", tg)
			slog.Info("telegram channel enabled")
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.BotToken != "" {
		dc, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			channelMgr.RegisterChannel("discord", dc)
			slog.Info("discord channel enabled")
		}
	}

	server.SetDeps(gateway.Deps{
		Scheduler:  sched,
		Usage:      usage,
		Runs:       runs,
		Channels:   channelMgr,
		ConfigPath: cfgPath,
	})

	// The webhook dispatcher rides on the gateway's HTTP mux.
	server.Mux().Handle("/webhook/", webhook.New(cfg, loop, chatStore))
	server.Mux().HandleFunc("/api/chats/", makeChatFilesHandler(fileStore))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	// Operator edits to the config file take effect without a restart:
	// providers re-register and autoprompt triggers recompile.
	if err := cfg.Watch(ctx, cfgPath, func() {
		registerProviders(providerRegistry, cfg)
		sched.Reload()
	}); err != nil {
		slog.Warn("config hot-reload unavailable", "error", err)
	}

	go consumeInboundMessages(ctx, msgBus, loop, cfg, sessionManager, usage)

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		msgBus.Broadcast(bus.Event{Name: protocol.EventShutdown})
		channelMgr.StopAll(context.Background())
		cancel()
	}()

	slog.Info("guenther gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"provider", cfg.Default,
		"tools", len(toolsReg.Names()),
		"channels", channelMgr.Names(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// busBroadcaster satisfies scheduler.EventPublisher.
type busBroadcaster struct {
	bus *bus.MessageBus
}

func (b busBroadcaster) Broadcast(eventType string, payload interface{}) {
	b.bus.Broadcast(bus.Event{Name: eventType, Payload: payload})
}

// buildTranscriber derives the STT backend from config: the default
// provider's endpoint, with either the Whisper route or a multimodal
// chat model.
func buildTranscriber(cfg *config.Config) stt.Transcriber {
	cfg.RLock()
	entry, ok := cfg.Providers[cfg.Default]
	model := cfg.STTModel
	useWhisper := cfg.UseOpenAIWhisper
	cfg.RUnlock()
	if !ok || entry.BaseURL == "" {
		return nil
	}
	t, err := stt.New(stt.Config{
		BaseURL:    entry.BaseURL,
		APIKey:     entry.APIKey,
		Model:      model,
		UseWhisper: useWhisper,
	}, nil)
	if err != nil {
		slog.Warn("speech-to-text unavailable", "error", err)
		return nil
	}
	return t
}
