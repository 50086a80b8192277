// Package canonjson renders structured values as canonical JSON bytes:
// object keys sorted lexicographically at every depth, arrays in given
// order, compact separators, no HTML escaping, numbers carried through as
// their source literal. Semantically identical values produce identical
// bytes regardless of field-insertion order, which is what makes ledger
// hashes reproducible by third parties.
package canonjson

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"

	lerrors "github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/errors"
)

// Marshal returns the canonical byte form of v. It fails with an
// ENCODING_ERROR for values JSON cannot represent deterministically
// (NaN/Inf floats, channels, funcs, cycles).
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, lerrors.NewEncoding(err)
	}
	return Canonicalize(raw)
}

// Canonicalize re-renders already-encoded JSON into canonical form. Number
// literals pass through untouched (json.Number), so "25.0" and "25" stay
// distinct inputs with distinct hashes. Input must be exactly one JSON
// value; trailing bytes are rejected.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, lerrors.NewEncoding(err)
	}
	if err := dec.Decode(new(any)); err != io.EOF {
		return nil, lerrors.NewEncoding(errTrailing{})
	}
	var buf bytes.Buffer
	if err := encode(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		return encodeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
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
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return lerrors.NewEncoding(errUnsupported{})
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return lerrors.NewEncoding(err)
	}
	// Encode appends a newline; canonical form has none.
	buf.Truncate(buf.Len() - 1)
	return nil
}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "unsupported value in decoded JSON tree" }

type errTrailing struct{}

func (errTrailing) Error() string { return "trailing bytes after JSON value" }
