package cryptoutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonical produces a deterministic JSON encoding of v: object keys
// sorted lexicographically, no insignificant whitespace, numbers in their
// shortest round-trip form, UTF-8 strings. Signatures are taken over this
// byte representation (spec.md §4.1, §6.5).
//
// No repo in the retrieval pack implements RFC 8785-style canonicalization
// (DESIGN.md); this is deliberately stdlib-only (encoding/json + sort).
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("cryptoutil: decode: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
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
		buf.WriteString(string(val))
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("cryptoutil: unsupported type %T in canonical encoding", v)
	}
	return nil
}

// CanonicalWithout re-marshals v into a map, deletes the named fields
// (matching their `json` tag names), then canonicalizes the remainder.
// Used to sign a commit head "minus the signatures field" (spec.md §3.2)
// or an action "minus the signature field" (spec.md §4.3).
func CanonicalWithout(v any, fields ...string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	for _, f := range fields {
		delete(m, f)
	}
	return Canonical(m)
}
