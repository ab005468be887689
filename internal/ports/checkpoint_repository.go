package ports

import (
	"context"

	"github.com/bft-labs/logship/internal/domain"
)

// CheckpointRepository persists continuity tokens across restarts.
type CheckpointRepository interface {
	// Load retrieves the last saved checkpoint.
	// Returns an empty checkpoint and nil error if none exists.
	Load(ctx context.Context) (domain.Checkpoint, error)

	// Save persists the checkpoint, replacing the previous one.
	Save(ctx context.Context, cp domain.Checkpoint) error
}
