package logship

import "context"

// Plugin extends a Shipper with a background component that runs while the
// Shipper is started.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize is called by Start, in registration order. ctx is
	// cancelled when the Shipper stops.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called by Stop, in reverse registration order.
	Shutdown(ctx context.Context) error
}

// PluginConfig is handed to plugins on initialization.
type PluginConfig struct {
	Config Config
	Logger Logger

	// RenderOptions returns the rendering options in effect.
	RenderOptions func() RenderOptions

	// SetRenderOptions replaces the rendering options for later flushes.
	SetRenderOptions func(RenderOptions)
}

// BasePlugin implements Initialize and Shutdown as no-ops.
type BasePlugin struct{}

func (BasePlugin) Initialize(context.Context, PluginConfig) error { return nil }
func (BasePlugin) Shutdown(context.Context) error                 { return nil }
