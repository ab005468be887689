package logship

import (
	"github.com/bft-labs/logship/internal/app"
	"github.com/bft-labs/logship/internal/cliconfig"
	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/internal/render"
	"github.com/bft-labs/logship/pkg/log"
)

// Config holds the configuration of a Shipper.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = cliconfig.Config

// DefaultConfig returns a Config with default values. At minimum a log
// group and stream source must be set.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

// Re-exported types for use with the Shipper API.
type (
	// Record is one structured log record.
	Record = domain.Record

	// Field is a key/value pair of a record.
	Field = domain.Field

	// Fields is an ordered record body.
	Fields = domain.Fields

	// Value is a structured value.
	Value = domain.Value

	// Target is a log group and stream pair.
	Target = domain.Target

	// Checkpoint holds the last known sequence token of each stream.
	Checkpoint = domain.Checkpoint

	// RenderOptions controls how records are turned into messages.
	RenderOptions = render.Options

	// FlushResult summarizes a flush.
	FlushResult = app.FlushResult

	// FlushError reports undelivered records of a flush.
	FlushError = app.FlushError

	// Logger is the interface for structured logging.
	Logger = log.Logger

	// LogField is a structured log field.
	LogField = log.Field

	// HTTPClient is the interface for making HTTP requests.
	// *http.Client satisfies this interface.
	HTTPClient = ports.HTTPClient

	// LogService is the destination log service.
	LogService = ports.LogService

	// RecordSource yields records to ship.
	RecordSource = ports.RecordSource

	// CheckpointRepository persists sequence tokens across restarts.
	CheckpointRepository = ports.CheckpointRepository
)

// Errors returned by the Shipper.
var (
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrInvalidConfig   = domain.ErrInvalidConfig
)

// State represents the lifecycle state of a Shipper.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	return app.State(s).String()
}

func convertState(s app.State) State {
	switch s {
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}

// MessageLimit returns a RenderOptions.MaxMessageLength of n characters.
func MessageLimit(n int) *int {
	return render.Limit(n)
}

// Value constructors for building records.
var (
	NullValue   = domain.Null
	StringValue = domain.String
	IntValue    = domain.Int
	FloatValue  = domain.Float
	BoolValue   = domain.Bool
	ListValue   = domain.List
	MapValue    = domain.Map
)
