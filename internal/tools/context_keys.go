package tools

import (
	"context"

	"github.com/opengunther/guenther/internal/config"
)

// Tool execution context keys, implemented via context.Context values
// instead of thread-locals so handlers stay safe for concurrent execution.

type toolContextKey string

const (
	ctxChannel  toolContextKey = "tool_channel"
	ctxChatID   toolContextKey = "tool_chat_id"
	ctxPeerKind toolContextKey = "tool_peer_kind"
)

func WithToolChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ctxChannel, channel)
}

func ToolChannelFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxChannel).(string)
	return v
}

func WithToolChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ctxChatID, chatID)
}

func ToolChatIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxChatID).(string)
	return v
}

func WithToolPeerKind(ctx context.Context, peerKind string) context.Context {
	return context.WithValue(ctx, ctxPeerKind, peerKind)
}

func ToolPeerKindFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxPeerKind).(string)
	return v
}

// --- Vision / ImageGen per-tool settings (ToolSettings cascade) ---

const (
	ctxVisionConfig   toolContextKey = "tool_vision_config"
	ctxImageGenConfig toolContextKey = "tool_imagegen_config"
)

// VisionConfig is the resolved provider+model override for read_image,
// sourced from config.Config.ToolSettings["read_image"].
type VisionConfig struct {
	Provider string
	Model    string
}

// ImageGenConfig is the resolved provider+model override for
// create_image, sourced from config.Config.ToolSettings["create_image"].
type ImageGenConfig struct {
	Provider string
	Model    string
}

func WithVisionConfig(ctx context.Context, cfg *VisionConfig) context.Context {
	return context.WithValue(ctx, ctxVisionConfig, cfg)
}

func VisionConfigFromCtx(ctx context.Context) *VisionConfig {
	v, _ := ctx.Value(ctxVisionConfig).(*VisionConfig)
	return v
}

func WithImageGenConfig(ctx context.Context, cfg *ImageGenConfig) context.Context {
	return context.WithValue(ctx, ctxImageGenConfig, cfg)
}

func ImageGenConfigFromCtx(ctx context.Context) *ImageGenConfig {
	v, _ := ctx.Value(ctxImageGenConfig).(*ImageGenConfig)
	return v
}

const ctxAllToolSettings toolContextKey = "tool_all_settings"

// WithAllToolSettings attaches the full per-tool settings map
// (config.Config.ToolSettings) for the active turn, so handlers can read
// their own settings bag without taking a *config.Config dependency.
func WithAllToolSettings(ctx context.Context, settings map[string]config.ToolSetting) context.Context {
	return context.WithValue(ctx, ctxAllToolSettings, settings)
}

func AllToolSettingsFromCtx(ctx context.Context) map[string]config.ToolSetting {
	v, _ := ctx.Value(ctxAllToolSettings).(map[string]config.ToolSetting)
	return v
}

// ToolSettingOverride reads the implicit provider/model keys from a
// tool's settings bag; both are always honored when present, whatever
// else the tool's settings schema declares.
func ToolSettingOverride(settings config.ToolSetting) (provider, model string) {
	if settings == nil {
		return "", ""
	}
	if v, ok := settings["provider"].(string); ok {
		provider = v
	}
	if v, ok := settings["model"].(string); ok {
		model = v
	}
	return provider, model
}
