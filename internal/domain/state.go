package domain

import "time"

// Existence is what the engine knows about a target at the destination.
type Existence int

const (
	ExistenceUnknown Existence = iota
	ExistenceExists
	ExistenceMissing
)

func (e Existence) String() string {
	switch e {
	case ExistenceUnknown:
		return "unknown"
	case ExistenceExists:
		return "exists"
	case ExistenceMissing:
		return "missing"
	default:
		return "invalid"
	}
}

// Phase is the position of a stream in the delivery state machine:
// Unresolved -> Ready -> Writing -> (Ready | Recreating) -> Writing -> ...
type Phase int

const (
	PhaseUnresolved Phase = iota
	PhaseReady
	PhaseWriting
	PhaseRecreating
)

func (p Phase) String() string {
	switch p {
	case PhaseUnresolved:
		return "Unresolved"
	case PhaseReady:
		return "Ready"
	case PhaseWriting:
		return "Writing"
	case PhaseRecreating:
		return "Recreating"
	default:
		return "Unknown"
	}
}

// StreamState is the mutable delivery state of one target.
type StreamState struct {
	Target    Target
	Token     string
	Existence Existence
	Phase     Phase

	// Writes counts accepted batches; LastWrite is the time of the latest one.
	Writes    int64
	LastWrite time.Time
}

// Accept records a successful write and the token for the next one.
func (s *StreamState) Accept(token string, at time.Time) {
	s.Token = token
	s.Existence = ExistenceExists
	s.Phase = PhaseReady
	s.Writes++
	s.LastWrite = at
}

// Checkpoint is a persisted snapshot of continuity tokens.
type Checkpoint struct {
	Tokens  map[Target]string
	SavedAt time.Time
}

// IsEmpty reports whether the checkpoint holds no tokens.
func (c Checkpoint) IsEmpty() bool {
	return len(c.Tokens) == 0
}
