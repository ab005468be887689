package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/logship/internal/batch"
	"github.com/bft-labs/logship/internal/delivery"
	"github.com/bft-labs/logship/internal/destination"
	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/internal/render"
	"github.com/bft-labs/logship/pkg/log"
)

// DefaultConcurrency bounds the targets delivered in parallel during a flush.
const DefaultConcurrency = 4

// EngineConfig wires the engine's components.
type EngineConfig struct {
	Render      render.Options
	Destination destination.Options
	Limits      batch.Limits
	Delivery    delivery.Options
	Concurrency int
}

// Engine runs flush cycles: resolve, render, plan, deliver.
type Engine struct {
	resolver    *destination.Resolver
	renderer    atomic.Pointer[render.Renderer]
	planner     *batch.Planner
	controller  *delivery.Controller
	concurrency int
	logger      ports.Logger
}

// NewEngine creates an engine. Static destination names are validated here.
func NewEngine(cfg EngineConfig, svc ports.LogService, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	resolver, err := destination.NewResolver(cfg.Destination)
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	e := &Engine{
		resolver:    resolver,
		planner:     batch.NewPlanner(cfg.Limits),
		controller:  delivery.NewController(svc, cfg.Delivery, logger),
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
	e.renderer.Store(render.New(cfg.Render))
	return e, nil
}

// SetRenderOptions swaps the rendering options. Flushes already running keep
// the options they started with.
func (e *Engine) SetRenderOptions(opts render.Options) {
	e.renderer.Store(render.New(opts))
}

// RenderOptions returns the current rendering options.
func (e *Engine) RenderOptions() render.Options {
	return e.renderer.Load().Options()
}

// Controller returns the delivery controller.
func (e *Engine) Controller() *delivery.Controller {
	return e.controller
}

// SkippedRecord is a record dropped before delivery.
type SkippedRecord struct {
	Index int
	Tag   string
	Err   error
}

// FlushResult summarizes a flush.
type FlushResult struct {
	// Records and Batches count what was stored at the destination.
	Records int
	Batches int
	Targets int

	Skipped  []SkippedRecord
	Duration time.Duration
}

// TargetFailure reports a target whose batches were not all delivered.
type TargetFailure struct {
	Target domain.Target
	Err    error

	// Records holds the undelivered records in input order.
	Records []domain.Record
	refs    []int
}

// Retryable reports whether a later flush of the records may succeed.
func (f TargetFailure) Retryable() bool {
	var de *domain.DeliveryError
	return errors.As(f.Err, &de) && de.Retryable()
}

// FlushError is returned when some batches could not be delivered.
type FlushError struct {
	Failures []TargetFailure

	// Pending holds every undelivered record in input order. Delivery is
	// at-least-once: a re-queued record may already be stored.
	Pending []domain.Record

	Result FlushResult
}

func (e *FlushError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("flush: %d records pending: %v", len(e.Pending), e.Failures[0].Err)
	}
	return fmt.Sprintf("flush: %d targets failed, %d records pending: %v",
		len(e.Failures), len(e.Pending), e.Failures[0].Err)
}

func (e *FlushError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// RetryablePending returns the pending records of retryable failures, in input order.
func (e *FlushError) RetryablePending() []domain.Record {
	return mergePending(e.Failures, TargetFailure.Retryable)
}

func mergePending(failures []TargetFailure, keep func(TargetFailure) bool) []domain.Record {
	type item struct {
		ref int
		rec domain.Record
	}
	var items []item
	for _, f := range failures {
		if !keep(f) {
			continue
		}
		for i, rec := range f.Records {
			items = append(items, item{ref: f.refs[i], rec: rec})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ref < items[j].ref })

	out := make([]domain.Record, len(items))
	for i, it := range items {
		out[i] = it.rec
	}
	return out
}

type targetWork struct {
	target  domain.Target
	events  []domain.Event
	batches []domain.Batch

	delivered int
	err       error
}

// Flush delivers records. Records that cannot be resolved or rendered are
// skipped and reported in the result. Targets are delivered in parallel;
// each target's batches go out in chronological order. On delivery failure
// the error is a *FlushError carrying the records to re-queue.
func (e *Engine) Flush(ctx context.Context, records []domain.Record) (FlushResult, error) {
	start := time.Now()
	renderer := e.renderer.Load()

	var (
		result FlushResult
		works  []*targetWork
		byKey  = make(map[domain.Target]*targetWork)
	)

	for i, rec := range records {
		target, err := e.resolver.Resolve(rec.Tag)
		if err == nil {
			var ev domain.Event
			ev, err = renderer.Event(rec, i)
			if err == nil {
				w, ok := byKey[target]
				if !ok {
					w = &targetWork{target: target}
					byKey[target] = w
					works = append(works, w)
				}
				w.events = append(w.events, ev)
				continue
			}
		}
		result.Skipped = append(result.Skipped, SkippedRecord{Index: i, Tag: rec.Tag, Err: err})
		e.logger.Warn("skipping record", log.String("tag", rec.Tag), log.Err(err))
	}

	for _, w := range works {
		w.batches = e.planner.Plan(w.events)
	}
	e.deliverAll(ctx, works)

	var failures []TargetFailure
	for _, w := range works {
		result.Targets++
		for i, b := range w.batches {
			if i >= w.delivered {
				break
			}
			result.Batches++
			result.Records += b.Len()
		}
		if w.err == nil {
			continue
		}

		f := TargetFailure{Target: w.target, Err: w.err}
		for _, b := range w.batches[w.delivered:] {
			f.refs = append(f.refs, b.Refs()...)
		}
		sort.Ints(f.refs)
		for _, ref := range f.refs {
			f.Records = append(f.Records, records[ref])
		}
		failures = append(failures, f)

		e.logger.Error("delivery failed",
			append(log.Target(w.target.Group, w.target.Stream),
				log.Int("batches_pending", len(w.batches)-w.delivered),
				log.Int("records_pending", len(f.Records)),
				log.Err(w.err))...)
	}
	result.Duration = time.Since(start)

	if len(failures) > 0 {
		return result, &FlushError{
			Failures: failures,
			Pending:  mergePending(failures, func(TargetFailure) bool { return true }),
			Result:   result,
		}
	}

	e.logger.Debug("flush complete",
		log.Int("records", result.Records),
		log.Int("batches", result.Batches),
		log.Int("targets", result.Targets),
		log.Int("skipped", len(result.Skipped)),
		log.Duration("duration", result.Duration))
	return result, nil
}

// deliverAll delivers every target, at most e.concurrency at a time.
func (e *Engine) deliverAll(ctx context.Context, works []*targetWork) {
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for _, w := range works {
		wg.Add(1)
		sem <- struct{}{}
		go func(w *targetWork) {
			defer wg.Done()
			defer func() { <-sem }()
			w.delivered, w.err = e.controller.Deliver(ctx, w.target, w.batches)
		}(w)
	}
	wg.Wait()
}
