package batch

import (
	"sort"

	"github.com/bft-labs/logship/internal/domain"
)

// Planner turns an unordered event sequence into legal batches.
type Planner struct {
	limits Limits
}

// NewPlanner creates a planner. Zero limits fall back to the defaults.
func NewPlanner(limits Limits) *Planner {
	def := DefaultLimits()
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = def.MaxBytes
	}
	if limits.MaxEvents <= 0 {
		limits.MaxEvents = def.MaxEvents
	}
	if limits.MaxSpan <= 0 {
		limits.MaxSpan = def.MaxSpan
	}
	return &Planner{limits: limits}
}

// Limits returns the planner's limits.
func (p *Planner) Limits() Limits {
	return p.limits
}

// Plan stable-sorts events by timestamp and splits them into batches.
// Batches are returned in chronological order; their concatenation equals
// the sorted input. The input slice is not modified.
func (p *Planner) Plan(events []domain.Event) []domain.Batch {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	var batches []domain.Batch
	b := NewBatcher(p.limits)
	for _, ev := range sorted {
		if closed := b.Add(ev); closed != nil {
			batches = append(batches, *closed)
		}
	}
	if closed := b.Flush(); closed != nil {
		batches = append(batches, *closed)
	}
	return batches
}
