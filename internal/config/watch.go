package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of fs events an editor save or an
// atomic rename produces into one reload.
const debounceWindow = 500 * time.Millisecond

// Watch reloads the config from path whenever the file changes on disk
// and then invokes onReload. The watch runs until ctx ends. Watching the
// parent directory instead of the file itself survives the
// write-temp-then-rename pattern Save uses.
func (c *Config) Watch(ctx context.Context, path string, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(path)

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceWindow, func() {
					if err := c.ReloadFrom(path); err != nil {
						slog.Warn("config reload failed", "error", err)
						return
					}
					slog.Info("config reloaded", "path", path)
					if onReload != nil {
						onReload()
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}

// ReloadFrom re-reads path and replaces this Config's contents in place,
// so every component holding the *Config sees the new values.
func (c *Config) ReloadFrom(path string) error {
	fresh, err := Load(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Providers = fresh.Providers
	c.Default = fresh.Default
	c.Model = fresh.Model
	c.Temperature = fresh.Temperature
	c.STTModel = fresh.STTModel
	c.TTSModel = fresh.TTSModel
	c.ImageGenModel = fresh.ImageGenModel
	c.UseOpenAIWhisper = fresh.UseOpenAIWhisper
	c.MCPServers = fresh.MCPServers
	c.ToolSettings = fresh.ToolSettings
	c.Tools = fresh.Tools
	c.Channels = fresh.Channels
	c.Gateway = fresh.Gateway
	c.Sessions = fresh.Sessions
	c.Database = fresh.Database
	c.Agents = fresh.Agents
	c.Webhooks = fresh.Webhooks
	c.Autoprompts = fresh.Autoprompts
	c.Telemetry = fresh.Telemetry
	return nil
}
