package domain

import "time"

// EventOverhead is the fixed number of bytes the destination charges per event
// on top of the message bytes.
const EventOverhead = 26

// Event is a rendered record ready to be sent.
type Event struct {
	// TimestampMs is the record time in milliseconds.
	TimestampMs int64

	// Message is the rendered payload.
	Message string

	// Ref is the position of the originating record in the flush input.
	// It is bookkeeping only and never leaves the process.
	Ref int
}

// Size returns the number of bytes the event counts against the request limit.
func (e Event) Size() int {
	return len(e.Message) + EventOverhead
}

// Batch is an ordered group of events delivered in one request.
// Events are sorted by timestamp; TotalBytes is the sum of event sizes.
type Batch struct {
	Events     []Event
	TotalBytes int

	// Oversized is set on a single-event batch whose event alone exceeds the
	// byte ceiling. Such batches are still sent; a rejection is reported.
	Oversized bool
}

// NewBatch creates a new empty batch.
func NewBatch() *Batch {
	return &Batch{Events: make([]Event, 0)}
}

// Add appends an event.
func (b *Batch) Add(e Event) {
	b.Events = append(b.Events, e)
	b.TotalBytes += e.Size()
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	return len(b.Events)
}

// Empty returns true if the batch has no events.
func (b *Batch) Empty() bool {
	return len(b.Events) == 0
}

// First returns the oldest event. It panics on an empty batch.
func (b *Batch) First() Event {
	return b.Events[0]
}

// Last returns the newest event. It panics on an empty batch.
func (b *Batch) Last() Event {
	return b.Events[len(b.Events)-1]
}

// Span returns the time between the oldest and newest event.
func (b *Batch) Span() time.Duration {
	if b.Empty() {
		return 0
	}
	return time.Duration(b.Last().TimestampMs-b.First().TimestampMs) * time.Millisecond
}

// Refs returns the record positions covered by the batch.
func (b *Batch) Refs() []int {
	refs := make([]int, len(b.Events))
	for i, e := range b.Events {
		refs[i] = e.Ref
	}
	return refs
}
