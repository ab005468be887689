package logship

import (
	"time"

	"github.com/bft-labs/logship/internal/app"
)

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// FlushSuccessEvent is emitted after a flush delivered all its records.
type FlushSuccessEvent struct {
	Records  int
	Batches  int
	Duration time.Duration
}

// FlushErrorEvent is emitted when a flush left records undelivered.
// Pending counts the records queued for the next attempt.
type FlushErrorEvent struct {
	Err     error
	Pending int
}

// RecordSkippedEvent is emitted for a record dropped before delivery,
// because its target could not be resolved or it could not be rendered.
type RecordSkippedEvent struct {
	Tag string
	Err error
}

// EventHandler receives Shipper events.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnFlushSuccess(event FlushSuccessEvent)
	OnFlushError(event FlushErrorEvent)
	OnRecordSkipped(event RecordSkippedEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// handle only some events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)     {}
func (BaseEventHandler) OnFlushSuccess(FlushSuccessEvent)   {}
func (BaseEventHandler) OnFlushError(FlushErrorEvent)       {}
func (BaseEventHandler) OnRecordSkipped(RecordSkippedEvent) {}

// eventEmitterWrapper adapts EventHandler to the internal observers.
type eventEmitterWrapper struct {
	handler EventHandler
}

var (
	_ app.StateObserver = (*eventEmitterWrapper)(nil)
	_ app.FlushObserver = (*eventEmitterWrapper)(nil)
)

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnFlushSuccess(records, batches int, duration time.Duration) {
	if e.handler == nil {
		return
	}
	e.handler.OnFlushSuccess(FlushSuccessEvent{Records: records, Batches: batches, Duration: duration})
}

func (e *eventEmitterWrapper) OnFlushError(err error, pending int) {
	if e.handler == nil {
		return
	}
	e.handler.OnFlushError(FlushErrorEvent{Err: err, Pending: pending})
}

func (e *eventEmitterWrapper) OnRecordSkipped(tag string, err error) {
	if e.handler == nil {
		return
	}
	e.handler.OnRecordSkipped(RecordSkippedEvent{Tag: tag, Err: err})
}
