package domain

import "bytes"

// Field is one named value of a record.
type Field struct {
	Key   string
	Value Value
}

// Fields is an ordered field list. Order is the insertion order of the
// source record and is preserved through rendering.
type Fields []Field

// Get returns the value stored under key.
func (f Fields) Get(key string) (Value, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return Value{}, false
}

// With returns a copy of f with key set to v. An existing key keeps its
// position; a new key is appended.
func (f Fields) With(key string, v Value) Fields {
	out := make(Fields, len(f), len(f)+1)
	copy(out, f)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = v
			return out
		}
	}
	return append(out, Field{Key: key, Value: v})
}

// AppendJSON writes the fields as a compact JSON object.
func (f Fields) AppendJSON(buf *bytes.Buffer) error {
	return f.encode(buf, true)
}

func (f Fields) encode(buf *bytes.Buffer, strict bool) error {
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(buf, field.Key, strict); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := field.Value.encode(buf, strict); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// Record is a structured log record handed over by the collector.
// Records are treated as immutable once received.
type Record struct {
	// Tag is the dotted label of the originating input (e.g. "app.web").
	Tag string

	// Time is the event time in seconds since the Unix epoch.
	Time int64

	// Fields holds the record body in insertion order.
	Fields Fields
}

// TimestampMs returns the event time in milliseconds.
func (r Record) TimestampMs() int64 {
	return r.Time * 1000
}
