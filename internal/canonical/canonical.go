// Package canonical produces deterministic JSON bytes for hashing and signing.
//
// Two values that are structurally equal always encode to the same bytes:
// object keys are sorted, there is no insignificant whitespace, and
// non-ASCII characters are written literally instead of \u escapes.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// ErrUnsupported is returned for values that have no JSON representation
// (channels, functions, NaN, ...).
var ErrUnsupported = errors.New("canonical: value is not JSON-representable")

// Encode returns the canonical encoding of v.
func Encode(v any) ([]byte, error) {
	tree, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	write(&buf, tree)
	return buf.Bytes(), nil
}

// EncodeWithout encodes v after dropping the given top-level object keys.
// v must normalize to a JSON object.
func EncodeWithout(v any, keys ...string) ([]byte, error) {
	tree, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrUnsupported, tree)
	}
	trimmed := make(map[string]any, len(obj))
	for k, val := range obj {
		trimmed[k] = val
	}
	for _, k := range keys {
		delete(trimmed, k)
	}
	var buf bytes.Buffer
	write(&buf, trimmed)
	return buf.Bytes(), nil
}

// Decode parses JSON into the generic tree used by Normalize, keeping
// numbers as json.Number so re-encoding is lossless.
func Decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("canonical: trailing data after JSON value")
	}
	return out, nil
}

// Normalize converts v into a tree made only of map[string]any, []any,
// string, json.Number, bool and nil. The result shares no mutable state
// with v.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string, bool:
		return val, nil
	case json.Number:
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			nv, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			nv, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		decoded, err := Decode(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return Normalize(decoded)
	}
}

func write(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			write(buf, item)
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		// Byte order of UTF-8 equals code point order.
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			write(buf, val[k])
		}
		buf.WriteByte('}')
	}
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			default:
				if c < 0x20 {
					buf.WriteString(`\u00`)
					buf.WriteByte(hexDigits[c>>4])
					buf.WriteByte(hexDigits[c&0xf])
				} else {
					buf.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			// Same coercion encoding/json applies to invalid UTF-8.
			buf.WriteString("\uFFFD")
		} else {
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}
