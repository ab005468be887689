// Package source reads structured records from line-oriented JSON inputs.
//
// Each line is either an envelope {"tag":..., "time":..., "record":{...}}
// or a bare JSON object, which is taken as the record body with the
// default tag and the time of reading.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/logship/internal/domain"
)

// Decoder turns lines into records.
type Decoder struct {
	// DefaultTag is used for bare objects and envelopes without a tag.
	DefaultTag string

	// Now supplies the time of bare objects.
	Now func() time.Time
}

// Decode parses one line.
func (d Decoder) Decode(line []byte) (domain.Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return domain.Record{}, errors.New("empty line")
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return domain.Record{}, fmt.Errorf("decode line: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return domain.Record{}, errors.New("decode line: trailing data")
	}
	if v.Kind() != domain.KindMap {
		return domain.Record{}, fmt.Errorf("decode line: want object, got %s", v.Kind())
	}

	rec := domain.Record{Tag: d.DefaultTag, Time: d.now().Unix(), Fields: v.Fields()}
	if body, ok := rec.Fields.Get("record"); ok && body.Kind() == domain.KindMap && isEnvelope(rec.Fields) {
		env := rec.Fields
		rec.Fields = body.Fields()
		if tag, ok := env.Get("tag"); ok && tag.Kind() == domain.KindString && tag.Text() != "" {
			rec.Tag = tag.Text()
		}
		if ts, ok := env.Get("time"); ok {
			sec, err := parseTime(ts)
			if err != nil {
				return domain.Record{}, fmt.Errorf("decode line: %w", err)
			}
			rec.Time = sec
		}
	}
	return rec, nil
}

func (d Decoder) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// isEnvelope reports whether every top-level key belongs to the envelope.
func isEnvelope(fields domain.Fields) bool {
	for _, f := range fields {
		switch f.Key {
		case "tag", "time", "record":
		default:
			return false
		}
	}
	return true
}

// parseTime accepts epoch seconds (integer or fractional) or an RFC 3339 string.
func parseTime(v domain.Value) (int64, error) {
	switch v.Kind() {
	case domain.KindInt:
		n, _ := strconv.ParseInt(v.Text(), 10, 64)
		return n, nil
	case domain.KindFloat:
		f, _ := strconv.ParseFloat(v.Text(), 64)
		return int64(math.Floor(f)), nil
	case domain.KindString:
		t, err := time.Parse(time.RFC3339Nano, v.Text())
		if err != nil {
			return 0, fmt.Errorf("parse time: %w", err)
		}
		return t.Unix(), nil
	default:
		return 0, fmt.Errorf("time must be a number or RFC 3339 string, got %s", v.Kind())
	}
}

// decodeValue reads one JSON value, keeping object key order.
func decodeValue(dec *json.Decoder) (domain.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return domain.Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return domain.Null(), nil
	case bool:
		return domain.Bool(t), nil
	case string:
		return domain.String(t), nil
	case json.Number:
		return number(t)
	case json.Delim:
		switch t {
		case '{':
			var fields domain.Fields
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return domain.Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return domain.Value{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return domain.Value{}, err
				}
				fields = append(fields, domain.Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return domain.Value{}, err
			}
			return domain.Map(fields), nil
		case '[':
			var items []domain.Value
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return domain.Value{}, err
				}
				items = append(items, val)
			}
			if _, err := dec.Token(); err != nil {
				return domain.Value{}, err
			}
			return domain.List(items...), nil
		}
	}
	return domain.Value{}, fmt.Errorf("unexpected token %v", tok)
}

func number(n json.Number) (domain.Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return domain.Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.Value{}, fmt.Errorf("parse number %q: %w", s, err)
	}
	return domain.Float(f), nil
}
