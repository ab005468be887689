package domain

// Target identifies a destination stream. It is comparable and used as a map key.
type Target struct {
	Group  string
	Stream string
}

// String returns "group/stream".
func (t Target) String() string {
	return t.Group + "/" + t.Stream
}
