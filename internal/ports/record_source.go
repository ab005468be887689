package ports

import (
	"context"

	"github.com/bft-labs/logship/internal/domain"
)

// RecordSource yields records one at a time.
type RecordSource interface {
	// Next returns the next record. io.EOF means no more records are
	// available right now; followed sources may return more later.
	Next(ctx context.Context) (domain.Record, error)

	// Close releases the underlying input.
	Close() error
}
