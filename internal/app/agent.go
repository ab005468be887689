package app

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bft-labs/logship/internal/backoff"
	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// Default flush driver settings.
const (
	DefaultFlushInterval = 5 * time.Second
	DefaultFlushRecords  = 1000

	// shutdownFlushTimeout bounds the last flush after cancellation.
	shutdownFlushTimeout = 10 * time.Second
	readerStopTimeout    = time.Second
	readErrorPause       = 100 * time.Millisecond
)

// AgentConfig contains configuration for the flush loop.
type AgentConfig struct {
	// FlushInterval flushes buffered records at least this often.
	FlushInterval time.Duration

	// FlushRecords flushes as soon as this many records are buffered.
	FlushRecords int

	// MaxBuffered pauses reading while this many records are buffered.
	// Zero means ten times FlushRecords.
	MaxBuffered int

	// BackoffInitial and BackoffMax space out flushes after a failure.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// FlushObserver is notified about flush outcomes.
type FlushObserver interface {
	OnFlushSuccess(records, batches int, duration time.Duration)
	OnFlushError(err error, pending int)
	OnRecordSkipped(tag string, err error)
}

// Agent buffers records from a source and hands them to the engine in
// flushes, triggered by size, by interval, by the end of the input and by
// shutdown. Records of a failed flush are re-queued ahead of newer ones.
type Agent struct {
	config      AgentConfig
	source      ports.RecordSource
	engine      *Engine
	checkpoints ports.CheckpointRepository
	logger      ports.Logger
	observer    FlushObserver

	buffer  []domain.Record
	paused  bool
	backoff *backoff.Backoff
	retryAt time.Time
}

// NewAgent creates a new agent. checkpoints and observer may be nil.
func NewAgent(
	config AgentConfig,
	source ports.RecordSource,
	engine *Engine,
	checkpoints ports.CheckpointRepository,
	logger ports.Logger,
	observer FlushObserver,
) *Agent {
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.FlushRecords <= 0 {
		config.FlushRecords = DefaultFlushRecords
	}
	if config.MaxBuffered < config.FlushRecords {
		config.MaxBuffered = 10 * config.FlushRecords
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Agent{
		config:      config,
		source:      source,
		engine:      engine,
		checkpoints: checkpoints,
		logger:      logger,
		observer:    observer,
		backoff:     backoff.New(config.BackoffInitial, config.BackoffMax),
	}
}

// Run executes the flush loop until the source is exhausted or ctx ends.
// At the end of the input it keeps retrying retryable records until they
// are delivered; on cancellation it makes one last flush attempt. Reading
// pauses while MaxBuffered records wait for delivery.
func (a *Agent) Run(ctx context.Context) error {
	a.restore(ctx)

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	records := make(chan domain.Record)
	held := make(chan domain.Record, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		a.read(readCtx, records, held)
	}()

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		in := a.input(records)
		var retry <-chan time.Time
		if in == nil {
			retry = time.After(time.Until(a.retryAt))
		}

		select {
		case <-ctx.Done():
			stopReading()
			a.collect(readerDone, held)
			a.shutdown()
			return ctx.Err()

		case <-retry:
			a.tryFlush(ctx)

		case rec, ok := <-in:
			if !ok {
				a.logger.Info("input exhausted, draining", log.Int("records", len(a.buffer)))
				return a.drain(ctx)
			}
			a.buffer = append(a.buffer, rec)
			if len(a.buffer) >= a.config.FlushRecords {
				a.tryFlush(ctx)
			}

		case <-ticker.C:
			a.tryFlush(ctx)
		}
	}
}

// input returns records, or nil while the buffer is full.
func (a *Agent) input(records chan domain.Record) chan domain.Record {
	full := len(a.buffer) >= a.config.MaxBuffered
	if full != a.paused {
		a.paused = full
		if full {
			a.logger.Warn("buffer full, pausing input", log.Int("records", len(a.buffer)))
		} else {
			a.logger.Info("resuming input", log.Int("records", len(a.buffer)))
		}
	}
	if full {
		return nil
	}
	return records
}

// read forwards records until the source reports io.EOF, then closes out.
// A record read when ctx ends is handed back on held.
func (a *Agent) read(ctx context.Context, out chan<- domain.Record, held chan<- domain.Record) {
	for {
		rec, err := a.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				close(out)
				return
			}
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("read error", log.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorPause):
				continue
			}
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			held <- rec
			return
		}
	}
}

// collect waits for the reader to stop and buffers the record it held.
func (a *Agent) collect(readerDone <-chan struct{}, held <-chan domain.Record) {
	select {
	case <-readerDone:
	case <-time.After(readerStopTimeout):
		a.logger.Warn("input reader did not stop")
	}
	select {
	case rec := <-held:
		a.buffer = append(a.buffer, rec)
	default:
	}
}

// tryFlush flushes the buffer unless it is empty or a retry is pending.
func (a *Agent) tryFlush(ctx context.Context) {
	if len(a.buffer) == 0 || time.Now().Before(a.retryAt) {
		return
	}
	_ = a.flush(ctx)
}

func (a *Agent) flush(ctx context.Context) error {
	records := a.buffer
	a.buffer = nil

	res, err := a.engine.Flush(ctx, records)
	for _, s := range res.Skipped {
		if a.observer != nil {
			a.observer.OnRecordSkipped(s.Tag, s.Err)
		}
	}

	if err != nil {
		var fe *FlushError
		if errors.As(err, &fe) {
			retry := fe.RetryablePending()
			if dropped := len(fe.Pending) - len(retry); dropped > 0 {
				a.logger.Error("dropping undeliverable records", log.Int("records", dropped), log.Err(err))
			}
			a.buffer = append(retry, a.buffer...)
		}
		delay := a.backoff.Next()
		a.retryAt = time.Now().Add(delay)
		a.logger.Warn("flush failed",
			log.Int("pending", len(a.buffer)),
			log.Duration("retry_in", delay),
			log.Err(err))
		if a.observer != nil {
			a.observer.OnFlushError(err, len(a.buffer))
		}
		a.save(ctx)
		return err
	}

	a.backoff.Reset()
	a.retryAt = time.Time{}
	a.logger.Info("flushed records",
		log.Int("records", res.Records),
		log.Int("batches", res.Batches),
		log.Int("targets", res.Targets),
		log.Duration("duration", res.Duration))
	if a.observer != nil {
		a.observer.OnFlushSuccess(res.Records, res.Batches, res.Duration)
	}
	a.save(ctx)
	return nil
}

// drain flushes until the buffer is empty. Records that can never be
// delivered are dropped by flush, so the loop ends.
func (a *Agent) drain(ctx context.Context) error {
	var lastErr error
	for len(a.buffer) > 0 {
		if wait := time.Until(a.retryAt); wait > 0 {
			select {
			case <-ctx.Done():
				a.shutdown()
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		lastErr = a.flush(ctx)
	}
	return lastErr
}

// shutdown makes one flush attempt on a fresh context.
func (a *Agent) shutdown() {
	if len(a.buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	if err := a.flush(ctx); err != nil {
		a.logger.Error("final flush failed", log.Int("pending", len(a.buffer)), log.Err(err))
	}
}

func (a *Agent) restore(ctx context.Context) {
	if a.checkpoints == nil {
		return
	}
	cp, err := a.checkpoints.Load(ctx)
	if err != nil {
		// Continue without tokens; stale ones are repaired on first write.
		a.logger.Error("failed to load checkpoint", log.Err(err))
		return
	}
	a.engine.Controller().Restore(cp)
	a.logger.Info("restored checkpoint", log.Int("streams", len(cp.Tokens)))
}

func (a *Agent) save(ctx context.Context) {
	if a.checkpoints == nil {
		return
	}
	if err := a.checkpoints.Save(ctx, a.engine.Controller().Checkpoint()); err != nil {
		a.logger.Error("failed to save checkpoint", log.Err(err))
	}
}
