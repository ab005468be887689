package domain

// OutcomeKind classifies the result of one write attempt.
type OutcomeKind int

const (
	// OutcomeAccepted: events stored, NextToken authorizes the next write.
	OutcomeAccepted OutcomeKind = iota
	// OutcomeDuplicate: the destination already holds this batch.
	OutcomeDuplicate
	// OutcomeStaleToken: the supplied token is not the current one.
	OutcomeStaleToken
	// OutcomeTargetMissing: the group or stream does not exist.
	OutcomeTargetMissing
	// OutcomeTransient: throttling, 5xx, network errors, timeouts.
	OutcomeTransient
	// OutcomePermanent: the request will never be accepted as is.
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "Accepted"
	case OutcomeDuplicate:
		return "Duplicate"
	case OutcomeStaleToken:
		return "StaleToken"
	case OutcomeTargetMissing:
		return "TargetMissing"
	case OutcomeTransient:
		return "Transient"
	case OutcomePermanent:
		return "Permanent"
	default:
		return "Unknown"
	}
}

// Outcome is the result of one write attempt.
type Outcome struct {
	Kind OutcomeKind

	// NextToken is set for Accepted and Duplicate.
	NextToken string

	// ExpectedToken is the current token reported with a StaleToken outcome.
	// ExpectedKnown is false when the destination did not say.
	ExpectedToken string
	ExpectedKnown bool

	// Err describes failures.
	Err error
}

func Accepted(next string) Outcome { return Outcome{Kind: OutcomeAccepted, NextToken: next} }
func Duplicate(next string) Outcome { return Outcome{Kind: OutcomeDuplicate, NextToken: next} }
func TargetMissing(err error) Outcome { return Outcome{Kind: OutcomeTargetMissing, Err: err} }
func Transient(err error) Outcome   { return Outcome{Kind: OutcomeTransient, Err: err} }
func Permanent(err error) Outcome   { return Outcome{Kind: OutcomePermanent, Err: err} }

// StaleToken builds a stale-token outcome. known reports whether expected is
// authoritative (an empty authoritative token means "send without token").
func StaleToken(expected string, known bool, err error) Outcome {
	return Outcome{Kind: OutcomeStaleToken, ExpectedToken: expected, ExpectedKnown: known, Err: err}
}

// Succeeded reports whether the events are stored at the destination.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeAccepted || o.Kind == OutcomeDuplicate
}
