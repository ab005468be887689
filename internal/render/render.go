// Package render turns structured records into destination messages.
//
// A record is rendered either as the compact JSON form of the whole record
// or, when message keys are configured, as the space-joined text of the
// selected values. An optional time key is injected first and a character
// limit is applied last.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bft-labs/logship/internal/domain"
)

// DefaultTimeKey is the field name used for the injected timestamp.
const DefaultTimeKey = "time"

const (
	utcLayout   = "2006-01-02T15:04:05Z"
	localLayout = "2006-01-02T15:04:05-07:00"
)

// Options controls how records are rendered.
type Options struct {
	// MessageKeys selects fields for the message. Empty renders the full record.
	MessageKeys []string

	// MaxMessageLength truncates the message to this many characters.
	// Nil leaves messages whole; 0 renders every message empty.
	MaxMessageLength *int

	// IncludeTimeKey injects the record time under TimeKey.
	IncludeTimeKey bool
	TimeKey        string

	// Localtime formats the injected time in Location instead of UTC.
	Localtime bool
	Location  *time.Location
}

// Renderer renders records with fixed options. It is safe for concurrent use.
type Renderer struct {
	opts Options
}

// New creates a renderer. Missing TimeKey and Location fall back to defaults.
func New(opts Options) *Renderer {
	if opts.TimeKey == "" {
		opts.TimeKey = DefaultTimeKey
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	opts.MaxMessageLength = copyLimit(opts.MaxMessageLength)
	opts.MessageKeys = append([]string(nil), opts.MessageKeys...)
	return &Renderer{opts: opts}
}

// Limit returns a MaxMessageLength of n characters.
func Limit(n int) *int {
	return &n
}

func copyLimit(p *int) *int {
	if p == nil || *p < 0 {
		return nil
	}
	return Limit(*p)
}

// Options returns a copy of the renderer's options.
func (r *Renderer) Options() Options {
	opts := r.opts
	opts.MessageKeys = append([]string(nil), r.opts.MessageKeys...)
	opts.MaxMessageLength = copyLimit(r.opts.MaxMessageLength)
	return opts
}

// Render produces the message for a record. It fails with domain.ErrRender
// when the record holds a value the destination cannot represent.
func (r *Renderer) Render(rec domain.Record) (string, error) {
	fields := rec.Fields
	if r.opts.IncludeTimeKey {
		fields = fields.With(r.opts.TimeKey, domain.String(r.formatTime(rec.Time)))
	}

	var msg string
	if len(r.opts.MessageKeys) > 0 {
		msg = r.selectKeys(fields)
	} else {
		var buf bytes.Buffer
		if err := fields.AppendJSON(&buf); err != nil {
			return "", err
		}
		msg = buf.String()
	}

	if !utf8.ValidString(msg) {
		return "", fmt.Errorf("%w: message is not valid UTF-8", domain.ErrRender)
	}
	if r.opts.MaxMessageLength != nil {
		msg = Truncate(msg, *r.opts.MaxMessageLength)
	}
	return msg, nil
}

// Event renders a record into an event carrying ref.
func (r *Renderer) Event(rec domain.Record, ref int) (domain.Event, error) {
	msg, err := r.Render(rec)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{TimestampMs: rec.TimestampMs(), Message: msg, Ref: ref}, nil
}

func (r *Renderer) selectKeys(fields domain.Fields) string {
	parts := make([]string, 0, len(r.opts.MessageKeys))
	for _, key := range r.opts.MessageKeys {
		v, ok := fields.Get(key)
		if !ok || v.IsNull() {
			continue
		}
		parts = append(parts, v.Text())
	}
	return strings.Join(parts, " ")
}

func (r *Renderer) formatTime(sec int64) string {
	t := time.Unix(sec, 0)
	if r.opts.Localtime {
		return t.In(r.opts.Location).Format(localLayout)
	}
	return t.UTC().Format(utcLayout)
}

// Truncate returns the first n characters of s. Negative n returns s unchanged.
func Truncate(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
