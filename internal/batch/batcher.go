// Package batch partitions rendered events into batches the destination
// accepts in a single request.
package batch

import (
	"time"

	"github.com/bft-labs/logship/internal/domain"
)

// Destination request limits.
const (
	DefaultMaxBytes  = 1048576
	DefaultMaxEvents = 10000
	DefaultMaxSpan   = 24 * time.Hour
)

// Limits bounds a single batch.
type Limits struct {
	// MaxBytes caps the sum of event sizes (message bytes + per-event overhead).
	MaxBytes int

	// MaxEvents caps the number of events.
	MaxEvents int

	// MaxSpan caps the time between the oldest and newest event.
	MaxSpan time.Duration
}

// DefaultLimits returns the destination's request limits.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:  DefaultMaxBytes,
		MaxEvents: DefaultMaxEvents,
		MaxSpan:   DefaultMaxSpan,
	}
}

// Batcher accumulates events in timestamp order and closes a batch as soon
// as the next event would break a limit.
type Batcher struct {
	limits Limits
	batch  *domain.Batch
}

// NewBatcher creates a batcher with the given limits.
func NewBatcher(limits Limits) *Batcher {
	return &Batcher{limits: limits, batch: domain.NewBatch()}
}

// Add adds an event. Events must arrive sorted by timestamp. If the event
// does not fit, the current batch is closed and returned and the event
// starts the next one.
func (b *Batcher) Add(ev domain.Event) *domain.Batch {
	if b.batch.Empty() || b.fits(ev) {
		b.add(ev)
		return nil
	}
	closed := b.batch
	b.batch = domain.NewBatch()
	b.add(ev)
	return closed
}

// Flush closes and returns the current batch, or nil if it is empty.
func (b *Batcher) Flush() *domain.Batch {
	if b.batch.Empty() {
		return nil
	}
	closed := b.batch
	b.batch = domain.NewBatch()
	return closed
}

func (b *Batcher) add(ev domain.Event) {
	b.batch.Add(ev)
	// Large event: sent alone, flagged so a rejection is reported as a limit violation.
	if b.limits.MaxBytes > 0 && b.batch.Len() == 1 && ev.Size() > b.limits.MaxBytes {
		b.batch.Oversized = true
	}
}

func (b *Batcher) fits(ev domain.Event) bool {
	if b.batch.Oversized {
		return false
	}
	if b.limits.MaxBytes > 0 && b.batch.TotalBytes+ev.Size() > b.limits.MaxBytes {
		return false
	}
	if b.limits.MaxEvents > 0 && b.batch.Len()+1 > b.limits.MaxEvents {
		return false
	}
	if b.limits.MaxSpan > 0 {
		span := time.Duration(ev.TimestampMs-b.batch.First().TimestampMs) * time.Millisecond
		if span > b.limits.MaxSpan {
			return false
		}
	}
	return true
}
