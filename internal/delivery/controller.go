// Package delivery submits planned batches to the log service.
//
// The controller writes the batches of a target strictly in order, carries
// the continuity token from each accepted write into the next, and repairs
// the two structural failures the destination reports: a stale token and a
// missing group or stream. Transient failures are retried with backoff.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/bft-labs/logship/internal/backoff"
	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// DefaultMaxAttempts bounds write attempts for transient failures.
const DefaultMaxAttempts = 5

// Options configures the controller.
type Options struct {
	// AutoCreateStream creates a missing group and stream and retries once.
	AutoCreateStream bool

	// MaxAttempts bounds attempts per batch on transient failures.
	MaxAttempts int

	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Controller delivers batches and owns the per-target stream state.
type Controller struct {
	svc    ports.LogService
	opts   Options
	logger ports.Logger
	states *StateStore

	newBackoff func() *backoff.Backoff
	now        func() time.Time
}

// NewController creates a controller.
func NewController(svc ports.LogService, opts Options, logger ports.Logger) *Controller {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	c := &Controller{
		svc:    svc,
		opts:   opts,
		logger: logger,
		states: NewStateStore(),
		now:    time.Now,
	}
	c.newBackoff = func() *backoff.Backoff {
		return backoff.New(c.opts.BackoffInitial, c.opts.BackoffMax)
	}
	return c
}

// States returns the controller's state store.
func (c *Controller) States() *StateStore {
	return c.states
}

// Deliver writes batches to target in order. It stops at the first batch
// that cannot be delivered and returns how many batches were stored before
// it together with a *domain.DeliveryError.
func (c *Controller) Deliver(ctx context.Context, target domain.Target, batches []domain.Batch) (int, error) {
	e := c.states.acquire(target)
	defer e.mu.Unlock()

	for i := range batches {
		if err := c.deliverBatch(ctx, &e.state, &batches[i]); err != nil {
			return i, err
		}
	}
	return len(batches), nil
}

func (c *Controller) deliverBatch(ctx context.Context, st *domain.StreamState, batch *domain.Batch) error {
	target := st.Target
	token := st.Token
	if st.Existence != domain.ExistenceExists {
		token = ""
	}

	var (
		attempts   int
		transient  int
		staleFixed bool
		recreated  bool
		bo         = c.newBackoff()
	)

	fail := func(kind, cause error) error {
		if st.Existence == domain.ExistenceExists {
			st.Phase = domain.PhaseReady
		} else {
			st.Phase = domain.PhaseUnresolved
		}
		return &domain.DeliveryError{
			Target:    target,
			Kind:      kind,
			Attempts:  attempts,
			Events:    batch.Len(),
			Oversized: batch.Oversized && errors.Is(kind, domain.ErrPermanentDelivery),
			Err:       cause,
		}
	}

	for {
		st.Phase = domain.PhaseWriting
		attempts++
		out := c.svc.PutLogEvents(ctx, ports.PutRequest{Target: target, Token: token, Events: batch.Events})

		c.logger.Debug("put log events",
			append(log.Target(target.Group, target.Stream),
				log.Int("events", batch.Len()),
				log.Int("attempt", attempts),
				log.String("outcome", out.Kind.String()))...)

		if out.Succeeded() {
			st.Accept(out.NextToken, c.now())
			return nil
		}

		switch out.Kind {
		case domain.OutcomeStaleToken:
			if staleFixed {
				return fail(domain.ErrStaleContinuity, out.Err)
			}
			staleFixed = true
			next := out.ExpectedToken
			if !out.ExpectedKnown {
				var (
					described string
					found     bool
					err       error
				)
				for {
					described, found, err = c.svc.DescribeStream(ctx, target)
					if err == nil {
						break
					}
					if !errors.Is(err, domain.ErrTransientDelivery) {
						return fail(domain.ErrStaleContinuity, err)
					}
					if err := c.wait(ctx, bo, target, &transient, err); err != nil {
						return fail(domain.ErrTransientDelivery, err)
					}
				}
				// A vanished stream surfaces as TargetMissing on the retry.
				if found {
					next = described
				}
			}
			c.logger.Warn("continuity token rejected, retrying with expected token",
				log.Target(target.Group, target.Stream)...)
			token = next

		case domain.OutcomeTargetMissing:
			if !c.opts.AutoCreateStream {
				st.Existence = domain.ExistenceMissing
				return fail(domain.ErrMissingTarget, out.Err)
			}
			if recreated {
				return fail(domain.ErrMissingTarget, out.Err)
			}
			st.Phase = domain.PhaseRecreating
			for {
				err := c.recreate(ctx, target)
				if err == nil {
					break
				}
				if !errors.Is(err, domain.ErrTransientDelivery) {
					return fail(domain.ErrMissingTarget, err)
				}
				if err := c.wait(ctx, bo, target, &transient, err); err != nil {
					return fail(domain.ErrTransientDelivery, err)
				}
			}
			recreated = true
			token = ""

		case domain.OutcomeTransient:
			if err := c.wait(ctx, bo, target, &transient, out.Err); err != nil {
				return fail(domain.ErrTransientDelivery, err)
			}

		default:
			return fail(domain.ErrPermanentDelivery, out.Err)
		}
	}
}

// wait counts a transient failure against the batch and backs off. It
// returns cause once the attempts are used up, or the context error.
func (c *Controller) wait(ctx context.Context, bo *backoff.Backoff, target domain.Target, transient *int, cause error) error {
	*transient++
	if *transient >= c.opts.MaxAttempts {
		return cause
	}
	c.logger.Warn("transient delivery failure, backing off",
		append(log.Target(target.Group, target.Stream),
			log.Int("attempt", *transient),
			log.Duration("backoff", bo.Current()),
			log.Err(cause))...)
	return bo.Wait(ctx)
}

// recreate creates the group and the stream. Existing ones count as success.
func (c *Controller) recreate(ctx context.Context, target domain.Target) error {
	c.logger.Info("creating missing destination", log.Target(target.Group, target.Stream)...)

	if err := c.svc.CreateLogGroup(ctx, target.Group); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	if err := c.svc.CreateLogStream(ctx, target.Group, target.Stream); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	return nil
}

// Checkpoint returns the tokens of all known targets.
func (c *Controller) Checkpoint() domain.Checkpoint {
	return domain.Checkpoint{Tokens: c.states.Snapshot(), SavedAt: c.now()}
}

// Restore seeds stream state from a checkpoint.
func (c *Controller) Restore(cp domain.Checkpoint) {
	c.states.Restore(cp.Tokens)
}
