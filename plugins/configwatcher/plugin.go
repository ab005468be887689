// Package configwatcher reloads logship rendering options when the config
// file changes. message_keys, max_message_length, include_time_key,
// time_key and localtime take effect on the next flush; other settings
// need a restart.
package configwatcher

import (
	"context"
	"sync"

	"github.com/bft-labs/logship/internal/app"
	"github.com/bft-labs/logship/internal/cliconfig"
	"github.com/bft-labs/logship/internal/render"
	"github.com/bft-labs/logship/pkg/log"
	"github.com/bft-labs/logship/pkg/logship"
)

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path is the TOML file to watch. Empty means the file the shipper's
	// configuration was loaded from.
	Path string

	// Changed lists flags set on the command line. Their values keep
	// precedence over the file on reload.
	Changed map[string]bool
}

// Plugin implements config watching functionality.
type Plugin struct {
	cfg Config

	mu      sync.Mutex
	watcher *app.ConfigWatcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	return &Plugin{cfg: cfg}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching the config file.
func (p *Plugin) Initialize(ctx context.Context, pc logship.PluginConfig) error {
	logger := pc.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	current := pc.Config
	if p.cfg.Path != "" {
		current.ConfigPath = p.cfg.Path
	}
	if current.ConfigPath == "" || pc.SetRenderOptions == nil {
		logger.Warn("config watcher disabled: no config file")
		return nil
	}

	changed := p.cfg.Changed
	load := func() (render.Options, error) {
		return cliconfig.ReloadRenderOptions(current, changed)
	}
	watcher := app.NewConfigWatcher(current.ConfigPath, load, app.RenderOptionsFunc(pc.SetRenderOptions), logger)

	watchCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.watcher = watcher
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := watcher.Run(watchCtx); err != nil {
			logger.Error("config watcher stopped", log.String("path", current.ConfigPath), log.Err(err))
		}
	}()
	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

// Reloads returns how many reloads were applied since Initialize.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher == nil {
		return 0
	}
	return p.watcher.Reloads()
}

// Ensure Plugin implements logship.Plugin.
var _ logship.Plugin = (*Plugin)(nil)
