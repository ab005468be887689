package logship

// Option configures optional behavior of a Shipper.
type Option func(*options)

// options holds the optional configuration for a Shipper instance.
type options struct {
	httpClient   HTTPClient
	logger       Logger
	service      LogService
	source       RecordSource
	checkpoints  CheckpointRepository
	eventHandler EventHandler
	plugins      []Plugin
}

// WithHTTPClient sets a custom HTTP client for the log service.
// If not provided, a default client with the configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogService replaces the destination log service. HTTP and dry-run
// settings are ignored when set.
func WithLogService(svc LogService) Option {
	return func(o *options) {
		o.service = svc
	}
}

// WithSource sets the record source read by Start instead of the
// configured input.
func WithSource(src RecordSource) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithCheckpointRepository replaces the configured state backend.
func WithCheckpointRepository(repo CheckpointRepository) Option {
	return func(o *options) {
		o.checkpoints = repo
	}
}

// WithEventHandler sets a handler for shipper events.
// Events are called synchronously from the flush goroutine.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when the Shipper starts.
// Plugins are initialized in registration order and shutdown in reverse order.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}
