package logship

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bft-labs/logship/internal/adapters/fs"
	httpAdapter "github.com/bft-labs/logship/internal/adapters/http"
	"github.com/bft-labs/logship/internal/adapters/memory"
	redisAdapter "github.com/bft-labs/logship/internal/adapters/redis"
	"github.com/bft-labs/logship/internal/adapters/source"
	"github.com/bft-labs/logship/internal/app"
	"github.com/bft-labs/logship/internal/batch"
	"github.com/bft-labs/logship/internal/cliconfig"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// Shipper ships records to a log service. Use New() to create an instance,
// then Start() to stream from a source or Flush() to deliver directly.
type Shipper struct {
	config      Config
	opts        options
	lifecycle   *app.Lifecycle
	engine      *app.Engine
	service     ports.LogService
	checkpoints ports.CheckpointRepository
	closer      io.Closer
	emitter     *eventEmitterWrapper
	logger      ports.Logger

	restoreOnce sync.Once

	mu      sync.Mutex
	plugins []Plugin
	done    chan struct{}
	runErr  error
}

// New creates a Shipper with the given configuration.
// The instance is created in StateStopped. Returns an error wrapping
// ErrInvalidConfig if the configuration is invalid.
func New(cfg Config, opts ...Option) (*Shipper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	emitter := &eventEmitterWrapper{handler: o.eventHandler}

	svc := o.service
	if svc == nil {
		if cfg.DryRun {
			svc = memory.New(memory.WithAutoProvision(), memory.WithLogger(logger))
			logger.Info("dry run: records are delivered to an in-memory service")
		} else {
			client := o.httpClient
			if client == nil {
				client = &http.Client{Timeout: cfg.HTTPTimeout}
			}
			svc = httpAdapter.NewClient(client, httpAdapter.Config{
				Endpoint: cfg.Endpoint,
				Headers:  cfg.Headers,
			}, logger)
		}
	}

	engine, err := app.NewEngine(app.EngineConfig{
		Render:      cfg.RenderOptions(),
		Destination: cfg.DestinationOptions(),
		Limits:      batch.DefaultLimits(),
		Delivery:    cfg.DeliveryOptions(),
		Concurrency: cfg.Concurrency,
	}, svc, logger)
	if err != nil {
		return nil, err
	}

	s := &Shipper{
		config:    cfg,
		opts:      o,
		lifecycle: app.NewLifecycle(logger, emitter),
		engine:    engine,
		service:   svc,
		emitter:   emitter,
		logger:    logger,
		plugins:   o.plugins,
	}

	if err := s.openCheckpoints(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shipper) openCheckpoints() error {
	if s.opts.checkpoints != nil {
		s.checkpoints = s.opts.checkpoints
		return nil
	}
	switch s.config.StateBackend {
	case cliconfig.StateBackendFile:
		s.checkpoints = fs.NewCheckpointFile(s.config.StateDir)
	case cliconfig.StateBackendRedis:
		store, err := redisAdapter.Dial(s.config.RedisURL, s.config.RedisPrefix)
		if err != nil {
			return err
		}
		s.checkpoints = store
		s.closer = store
	}
	return nil
}

// openSource returns the injected source or opens the configured input:
// stdin for "-", the whole file in once mode, otherwise a followed file.
func (s *Shipper) openSource() (ports.RecordSource, error) {
	if s.opts.source != nil {
		return s.opts.source, nil
	}
	dec := source.Decoder{DefaultTag: s.config.DefaultTag, Now: time.Now}
	if s.config.Input == "" || s.config.Input == "-" {
		return source.NewJSONLines(os.Stdin, dec, s.logger), nil
	}
	if s.config.Once {
		f, err := os.Open(s.config.Input)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		return &fileSource{JSONLines: source.NewJSONLines(f, dec, s.logger), file: f}, nil
	}
	return source.NewTail(source.TailConfig{
		Path:          s.config.Input,
		FromBeginning: s.config.FromBeginning,
	}, dec, s.logger)
}

// fileSource closes the file along with the reader.
type fileSource struct {
	*source.JSONLines
	file *os.File
}

func (f *fileSource) Close() error {
	_ = f.JSONLines.Close()
	return f.file.Close()
}

// Start begins shipping from the source in the background.
// Returns an error if already running or if startup fails.
// The provided context is used for the lifetime of the streaming operation.
func (s *Shipper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if err := s.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	src, err := s.openSource()
	if err != nil {
		_ = s.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		return err
	}

	runCtx := s.lifecycle.Context(ctx)

	pluginCfg := PluginConfig{
		Config:           s.config,
		Logger:           s.logger,
		RenderOptions:    s.engine.RenderOptions,
		SetRenderOptions: s.engine.SetRenderOptions,
	}
	for _, p := range s.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			s.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			s.lifecycle.Cancel()
			_ = src.Close()
			_ = s.lifecycle.TransitionTo(app.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		s.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	agent := app.NewAgent(app.AgentConfig{
		FlushInterval:  s.config.FlushInterval,
		FlushRecords:   s.config.FlushRecords,
		MaxBuffered:    s.config.MaxBufferedRecords,
		BackoffInitial: s.config.BackoffInitial,
		BackoffMax:     s.config.BackoffMax,
	}, src, s.engine, s.checkpoints, s.logger, s.emitter)

	done := make(chan struct{})
	s.done = done
	s.runErr = nil

	s.lifecycle.Go(func() {
		defer close(done)
		defer src.Close()

		if err := s.lifecycle.TransitionTo(app.StateRunning, "agent starting"); err != nil {
			s.logger.Error("failed to transition to running", log.Err(err))
			return
		}

		err := agent.Run(runCtx)
		switch {
		case err == nil:
			if s.lifecycle.TransitionTo(app.StateStopping, "input exhausted") == nil {
				s.shutdownPlugins()
				_ = s.lifecycle.TransitionTo(app.StateStopped, "input exhausted")
			}
		case errors.Is(err, context.Canceled):
		default:
			s.logger.Error("agent error", log.Err(err))
			s.mu.Lock()
			s.runErr = err
			s.mu.Unlock()
			s.lifecycle.Cancel()
			s.shutdownPlugins()
			_ = s.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		}
	})

	return nil
}

// Stop gracefully shuts down the Shipper. Buffered records get a final
// flush and the checkpoint is saved. Waits up to 30 seconds before forcing
// shutdown. Returns nil on graceful shutdown, ErrShutdownTimeout if forced.
func (s *Shipper) Stop() error {
	s.mu.Lock()

	if !s.lifecycle.CanStop() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if err := s.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lifecycle.Cancel()
	s.mu.Unlock()

	err := s.lifecycle.Wait(app.ShutdownTimeout)
	s.shutdownPlugins()

	if err != nil {
		_ = s.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = s.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}
	return err
}

// shutdownPlugins stops plugins in reverse order.
func (s *Shipper) shutdownPlugins() {
	ctx := context.Background()
	for i := len(s.plugins) - 1; i >= 0; i-- {
		p := s.plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			s.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
		} else {
			s.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}

// Done is closed when the background run started by the last Start ends,
// either because the input was exhausted, Stop was called or it crashed.
// It returns nil before the first Start.
func (s *Shipper) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that crashed the last run, if any.
func (s *Shipper) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (s *Shipper) Status() State {
	return convertState(s.lifecycle.State())
}

// Flush delivers records synchronously and saves the checkpoint. It must
// not be used while the Shipper is running. Undelivered records are
// reported in a *FlushError.
func (s *Shipper) Flush(ctx context.Context, records []Record) (FlushResult, error) {
	if !s.lifecycle.CanStart() {
		return FlushResult{}, ErrAlreadyRunning
	}
	s.restoreOnce.Do(func() { s.restore(ctx) })

	res, err := s.engine.Flush(ctx, records)
	for _, sk := range res.Skipped {
		s.emitter.OnRecordSkipped(sk.Tag, sk.Err)
	}
	if err != nil {
		pending := 0
		var fe *app.FlushError
		if errors.As(err, &fe) {
			pending = len(fe.Pending)
		}
		s.emitter.OnFlushError(err, pending)
	} else {
		s.emitter.OnFlushSuccess(res.Records, res.Batches, res.Duration)
	}
	s.save(ctx)
	return res, err
}

// SetRenderOptions replaces the rendering options for later flushes.
func (s *Shipper) SetRenderOptions(opts RenderOptions) {
	s.engine.SetRenderOptions(opts)
}

// Checkpoint returns the current sequence tokens.
func (s *Shipper) Checkpoint() Checkpoint {
	return s.engine.Controller().Checkpoint()
}

// Close releases the state backend. The Shipper must be stopped.
func (s *Shipper) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Shipper) restore(ctx context.Context) {
	if s.checkpoints == nil {
		return
	}
	cp, err := s.checkpoints.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load checkpoint", log.Err(err))
		return
	}
	s.engine.Controller().Restore(cp)
}

func (s *Shipper) save(ctx context.Context) {
	if s.checkpoints == nil {
		return
	}
	if err := s.checkpoints.Save(ctx, s.engine.Controller().Checkpoint()); err != nil {
		s.logger.Error("failed to save checkpoint", log.Err(err))
	}
}
