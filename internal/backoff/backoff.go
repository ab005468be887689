// Package backoff implements exponential backoff with ±20% jitter.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Default backoff configuration values.
const (
	DefaultInitial = 500 * time.Millisecond
	DefaultMax     = 10 * time.Second
)

// Backoff tracks the delay before the next retry. It is not safe for
// concurrent use; each retry loop owns its own instance.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a backoff with the given initial and max durations.
func New(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if max < initial {
		max = initial
	}
	return &Backoff{
		initial: initial,
		max:     max,
		current: initial,
		sleep:   sleepContext,
	}
}

// Next returns the jittered delay for the current step and doubles the step.
func (b *Backoff) Next() time.Duration {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	d := time.Duration(float64(b.current) + jitter)

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Wait sleeps for the next delay. It returns ctx.Err() if the context ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	return b.sleep(ctx, b.Next())
}

// Reset resets the backoff to the initial duration.
func (b *Backoff) Reset() {
	b.current = b.initial
}

// Current returns the current backoff duration.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// WithSleep replaces the sleep function. Intended for tests.
func (b *Backoff) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Backoff {
	b.sleep = sleep
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
