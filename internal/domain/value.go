package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Kind enumerates the value kinds a record field may hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a field value. The zero Value is null.
type Value struct {
	kind   Kind
	str    string
	num    int64
	float  float64
	list   []Value
	fields Fields
}

func Null() Value             { return Value{} }
func String(s string) Value   { return Value{kind: KindString, str: s} }
func Int(i int64) Value       { return Value{kind: KindInt, num: i} }
func Float(f float64) Value   { return Value{kind: KindFloat, float: f} }
func List(vs ...Value) Value  { return Value{kind: KindList, list: vs} }
func Map(fields Fields) Value { return Value{kind: KindMap, fields: fields} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Items returns the elements of a list value.
func (v Value) Items() []Value { return v.list }

// Fields returns the entries of a map value.
func (v Value) Fields() Fields { return v.fields }

// Text converts the value to its plain string form. Strings are returned
// verbatim, lists and maps as compact JSON, null as the empty string.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return formatFloat(v.float)
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	default:
		var buf bytes.Buffer
		_ = v.encode(&buf, false)
		return buf.String()
	}
}

// AppendJSON writes the compact JSON form of the value to buf. It fails with
// ErrRender on non-finite floats and invalid UTF-8.
func (v Value) AppendJSON(buf *bytes.Buffer) error {
	return v.encode(buf, true)
}

func (v Value) encode(buf *bytes.Buffer, strict bool) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		return writeJSONString(buf, v.str, strict)
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.num, 10))
	case KindFloat:
		if math.IsNaN(v.float) || math.IsInf(v.float, 0) {
			if strict {
				return fmt.Errorf("%w: non-finite number %v", ErrRender, v.float)
			}
			buf.WriteString(strconv.Quote(formatFloat(v.float)))
			return nil
		}
		buf.WriteString(formatFloat(v.float))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.num != 0))
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf, strict); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		return v.fields.encode(buf, strict)
	}
	return nil
}

// formatFloat follows encoding/json number formatting.
func formatFloat(f float64) string {
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	b := strconv.AppendFloat(nil, f, format, -1, 64)
	if format == 'e' {
		// clean up e-09 to e-9
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return string(b)
}

func writeJSONString(buf *bytes.Buffer, s string, strict bool) error {
	if strict && !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid UTF-8 in %q", ErrRender, s)
	}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("%w: %v", ErrRender, err)
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
