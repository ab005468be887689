package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/logship/internal/cliconfig"
	"github.com/bft-labs/logship/pkg/logship"
)

type captured struct {
	mu   sync.Mutex
	opts []logship.RenderOptions
}

func (c *captured) set(o logship.RenderOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = append(c.opts, o)
}

func (c *captured) last() (logship.RenderOptions, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.opts) == 0 {
		return logship.RenderOptions{}, 0
	}
	return c.opts[len(c.opts)-1], len(c.opts)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestPlugin_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `message_keys = "message"`)

	cfg := cliconfig.DefaultConfig()
	cfg.ConfigPath = path

	var got captured
	plugin := New(Config{Changed: map[string]bool{"max-message-length": true}})
	cfg.MaxMessageLength = 7

	ctx := context.Background()
	err := plugin.Initialize(ctx, logship.PluginConfig{
		Config:           cfg,
		SetRenderOptions: got.set,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	writeFile(t, path, "message_keys = [\"log\", \"level\"]\nmax_message_length = 100\n")
	waitFor(t, func() bool { _, n := got.last(); return n >= 1 })

	opts, _ := got.last()
	if len(opts.MessageKeys) != 2 || opts.MessageKeys[0] != "log" {
		t.Errorf("MessageKeys = %v, want [log level]", opts.MessageKeys)
	}
	if opts.MaxMessageLength == nil || *opts.MaxMessageLength != 7 {
		t.Errorf("MaxMessageLength = %v, want flag value 7", opts.MaxMessageLength)
	}
	if plugin.Reloads() < 1 {
		t.Errorf("Reloads() = %d, want >= 1", plugin.Reloads())
	}

	// An invalid file keeps the previous options.
	_, before := got.last()
	writeFile(t, path, `message_keys = [`)
	time.Sleep(300 * time.Millisecond)
	if _, after := got.last(); after != before {
		t.Errorf("invalid config applied: %d reloads, want %d", after, before)
	}

	if err := plugin.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestPlugin_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logship.toml")
	writeFile(t, path, `include_time_key = false`)

	var got captured
	plugin := New(Config{Path: path})
	err := plugin.Initialize(context.Background(), logship.PluginConfig{
		Config:           cliconfig.DefaultConfig(),
		SetRenderOptions: got.set,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer plugin.Shutdown(context.Background())
	time.Sleep(50 * time.Millisecond)

	// Writes to other files in the directory are ignored.
	writeFile(t, filepath.Join(dir, "other.toml"), `include_time_key = true`)
	writeFile(t, path, `include_time_key = true`)

	waitFor(t, func() bool { o, n := got.last(); return n >= 1 && o.IncludeTimeKey })
}

func TestPlugin_DisabledWithoutConfigFile(t *testing.T) {
	plugin := New(Config{})
	err := plugin.Initialize(context.Background(), logship.PluginConfig{
		Config:           cliconfig.DefaultConfig(),
		SetRenderOptions: func(logship.RenderOptions) {},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if plugin.Reloads() != 0 {
		t.Errorf("Reloads() = %d, want 0", plugin.Reloads())
	}
	if err := plugin.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestPlugin_Name(t *testing.T) {
	if got := New(Config{}).Name(); got != "configwatcher" {
		t.Errorf("Name() = %q, want configwatcher", got)
	}
}
