package ports

import (
	"context"

	"github.com/bft-labs/logship/internal/domain"
)

// PutRequest is one write of a batch to a stream.
type PutRequest struct {
	Target domain.Target

	// Token is the continuity token of the stream. Empty means none.
	Token string

	// Events are sorted by timestamp.
	Events []domain.Event
}

// LogService is the remote append-only log store.
type LogService interface {
	// PutLogEvents writes a batch. Failures are classified in the Outcome
	// rather than returned as errors.
	PutLogEvents(ctx context.Context, req PutRequest) domain.Outcome

	// CreateLogGroup creates a group. Returns domain.ErrAlreadyExists if it exists.
	CreateLogGroup(ctx context.Context, group string) error

	// CreateLogStream creates a stream in an existing group.
	// Returns domain.ErrAlreadyExists if it exists.
	CreateLogStream(ctx context.Context, group, stream string) error

	// DescribeStream returns the current continuity token of a stream.
	// found is false if the stream does not exist.
	DescribeStream(ctx context.Context, target domain.Target) (token string, found bool, err error)
}
