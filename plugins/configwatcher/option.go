package configwatcher

import "github.com/bft-labs/logship/pkg/logship"

// WithConfigWatcher returns a logship Option that reloads rendering
// options when the config file changes.
//
// Usage:
//
//	s, err := logship.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        Path:    "/etc/logship/config.toml",
//	        Changed: changedFlags,
//	    }),
//	)
func WithConfigWatcher(cfg Config) logship.Option {
	return logship.WithPlugin(New(cfg))
}

// WithDefaultConfigWatcher watches the file the shipper's Config was read
// from (Config.ConfigPath).
func WithDefaultConfigWatcher() logship.Option {
	return WithConfigWatcher(Config{})
}
