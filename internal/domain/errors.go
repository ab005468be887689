package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// ErrRender marks a record that cannot be rendered into a message.
	ErrRender = errors.New("logship: unrepresentable record")

	// ErrInvalidName marks a group or stream name the destination would reject.
	ErrInvalidName = errors.New("logship: invalid destination name")

	// ErrLimitViolation marks a single event larger than the request byte ceiling.
	ErrLimitViolation = errors.New("logship: event exceeds request byte limit")

	// ErrStaleContinuity is returned when the token could not be repaired.
	ErrStaleContinuity = errors.New("logship: stale continuity token")

	// ErrMissingTarget is returned when the destination does not exist and
	// automatic creation is disabled or did not help.
	ErrMissingTarget = errors.New("logship: destination does not exist")

	// ErrTransientDelivery is returned after retries were exhausted.
	ErrTransientDelivery = errors.New("logship: transient delivery failure")

	// ErrPermanentDelivery is returned for requests the destination will never accept.
	ErrPermanentDelivery = errors.New("logship: permanent delivery failure")

	// ErrAlreadyExists is returned by create calls for existing groups or streams.
	ErrAlreadyExists = errors.New("logship: resource already exists")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("logship: invalid configuration")

	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("logship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("logship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("logship: shutdown timeout")
)

// DeliveryError reports a batch that could not be delivered to its target.
// Kind is one of the delivery sentinels above; Err carries the last cause.
type DeliveryError struct {
	Target    Target
	Kind      error
	Attempts  int
	Events    int
	Oversized bool
	Err       error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("deliver %d events to %s after %d attempts: %v", e.Events, e.Target, e.Attempts, e.Kind)
	if e.Oversized {
		msg += " (" + ErrLimitViolation.Error() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Oversized {
		errs = append(errs, ErrLimitViolation)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether a later flush of the same batch may succeed.
func (e *DeliveryError) Retryable() bool {
	return errors.Is(e.Kind, ErrTransientDelivery) || errors.Is(e.Kind, ErrStaleContinuity)
}
