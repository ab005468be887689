package app

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/internal/render"
	"github.com/bft-labs/logship/pkg/log"
)

const reloadDebounce = 100 * time.Millisecond

// RenderOptionsLoader re-reads the rendering options from the config file.
type RenderOptionsLoader func() (render.Options, error)

// RenderOptionsSetter receives reloaded rendering options. *Engine
// implements it.
type RenderOptionsSetter interface {
	SetRenderOptions(render.Options)
}

// RenderOptionsFunc adapts a function to RenderOptionsSetter.
type RenderOptionsFunc func(render.Options)

func (f RenderOptionsFunc) SetRenderOptions(opts render.Options) { f(opts) }

// ConfigWatcher reloads rendering options when the config file changes.
type ConfigWatcher struct {
	path   string
	load   RenderOptionsLoader
	target RenderOptionsSetter
	logger ports.Logger

	mu       sync.Mutex
	debounce *time.Timer
	reloads  int
}

// NewConfigWatcher creates a watcher for the config file at path.
func NewConfigWatcher(path string, load RenderOptionsLoader, target RenderOptionsSetter, logger ports.Logger) *ConfigWatcher {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &ConfigWatcher{path: path, load: load, target: target, logger: logger}
}

// Run watches the file's directory until ctx ends. Editors that replace
// the file by rename show up as Create events and are handled the same way.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	name := filepath.Base(w.path)
	w.logger.Info("watching config file", log.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			w.stopDebounce()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", log.Err(err))
		}
	}
}

// Reloads returns how many reloads were applied.
func (w *ConfigWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *ConfigWatcher) scheduleReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.reload)
}

func (w *ConfigWatcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}

func (w *ConfigWatcher) reload() {
	opts, err := w.load()
	if err != nil {
		w.logger.Warn("ignoring invalid config change", log.String("path", w.path), log.Err(err))
		return
	}
	w.target.SetRenderOptions(opts)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	fields := []log.Field{
		log.Strings("message_keys", opts.MessageKeys),
		log.Bool("include_time_key", opts.IncludeTimeKey),
		log.Bool("localtime", opts.Localtime),
	}
	if opts.MaxMessageLength != nil {
		fields = append(fields, log.Int("max_message_length", *opts.MaxMessageLength))
	}
	w.logger.Info("reloaded render options", fields...)
}
