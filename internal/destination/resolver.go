// Package destination maps record tags to (group, stream) targets.
package destination

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bft-labs/logship/internal/domain"
)

// MaxNameLength is the longest group or stream name the destination accepts.
const MaxNameLength = 512

// Options selects where group and stream names come from.
type Options struct {
	GroupName      string
	StreamName     string
	UseTagAsGroup  bool
	UseTagAsStream bool
}

// Resolver assigns targets to records.
type Resolver struct {
	opts Options
}

// NewResolver validates the static names and returns a resolver.
// Static names are never rewritten; an illegal one is a configuration error.
func NewResolver(opts Options) (*Resolver, error) {
	if !opts.UseTagAsGroup {
		if err := ValidateGroupName(opts.GroupName); err != nil {
			return nil, fmt.Errorf("%w: log_group_name: %v", domain.ErrInvalidConfig, err)
		}
	}
	if !opts.UseTagAsStream {
		if err := ValidateStreamName(opts.StreamName); err != nil {
			return nil, fmt.Errorf("%w: log_stream_name: %v", domain.ErrInvalidConfig, err)
		}
	}
	return &Resolver{opts: opts}, nil
}

// Resolve returns the target for a tag.
func (r *Resolver) Resolve(tag string) (domain.Target, error) {
	t := domain.Target{Group: r.opts.GroupName, Stream: r.opts.StreamName}
	if !r.opts.UseTagAsGroup && !r.opts.UseTagAsStream {
		return t, nil
	}
	if tag == "" {
		return domain.Target{}, fmt.Errorf("%w: empty tag", domain.ErrInvalidName)
	}
	if r.opts.UseTagAsGroup {
		t.Group = SanitizeGroupName(tag)
	}
	if r.opts.UseTagAsStream {
		t.Stream = SanitizeStreamName(tag)
	}
	return t, nil
}

func isGroupRune(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '-', c == '/', c == '.', c == '#':
		return true
	}
	return false
}

func isStreamRune(c rune) bool {
	return c != ':' && c != '*' && c != utf8.RuneError
}

// ValidateGroupName checks a static group name.
func ValidateGroupName(name string) error {
	return validate(name, isGroupRune)
}

// ValidateStreamName checks a static stream name.
func ValidateStreamName(name string) error {
	return validate(name, isStreamRune)
}

func validate(name string, allowed func(rune) bool) error {
	if name == "" {
		return errors.New("name is empty")
	}
	if !utf8.ValidString(name) {
		return errors.New("name is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return fmt.Errorf("name has %d characters, limit is %d", n, MaxNameLength)
	}
	for _, c := range name {
		if !allowed(c) {
			return fmt.Errorf("character %q is not allowed", c)
		}
	}
	return nil
}

// SanitizeGroupName replaces characters a group name cannot hold with '_'
// and truncates to MaxNameLength characters.
func SanitizeGroupName(tag string) string {
	return sanitize(tag, isGroupRune)
}

// SanitizeStreamName is SanitizeGroupName for stream names.
func SanitizeStreamName(tag string) string {
	return sanitize(tag, isStreamRune)
}

func sanitize(tag string, allowed func(rune) bool) string {
	var sb strings.Builder
	n := 0
	for _, c := range tag {
		if n == MaxNameLength {
			break
		}
		if !allowed(c) {
			c = '_'
		}
		sb.WriteRune(c)
		n++
	}
	return sb.String()
}
