// Package canon implements the canonical JSON encoding HDS signs and
// verifies payloads over: keys sorted lexicographically, no insignificant
// whitespace, integers without decimal points (spec.md §4.1).
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Encode produces the canonical JSON byte encoding of v, a
// JSON-serializable value (map[string]interface{}, slice, string, number,
// bool, or nil, as decoded by encoding/json). It is a pure function.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, val)
	case json.Number:
		return encodeNumber(buf, val)
	case float64:
		return encodeNumber(buf, json.Number(formatFloat(val)))
	case int:
		return encodeNumber(buf, json.Number(fmt.Sprintf("%d", val)))
	case int64:
		return encodeNumber(buf, json.Number(fmt.Sprintf("%d", val)))
	case map[string]interface{}:
		return encodeObject(buf, val)
	case []interface{}:
		return encodeArray(buf, val)
	default:
		return fmt.Errorf("canon: unsupported value type %T", v)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	// Canonical JSON requires integers without decimal points; the wire
	// protocol only ever signs integers (hds.ttl) so we pass the literal
	// through as-is, which json.Number already guarantees is valid JSON.
	buf.WriteString(string(n))
	return nil
}

// minimal JSON escape set: the characters JSON requires escaping, nothing
// extra (no escaping of e.g. '/' or non-ASCII runes).
func encodeString(buf *bytes.Buffer, s string) error {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
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
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}

func encodeObject(buf *bytes.Buffer, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, a []interface{}) error {
	buf.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// Decode parses JSON bytes the way the rest of HDS expects to consume them:
// numbers preserved as json.Number so canonicalization never loses integer
// precision or reformats them as floats.
func Decode(b []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
