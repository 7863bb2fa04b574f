package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalizeJSON recursively sorts object keys so that any two callers
// holding the same logical value produce byte-identical output. Arrays
// keep their original order; non-object, non-array values pass through
// json.Marshal unchanged. This is unconditional: every revision of the
// canonicalization debate elsewhere in this lineage settled on always
// sorting, never conditionally.
func canonicalizeJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return marshalSorted(v)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf.Write(ib)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// signingBytes builds the newline-delimited key=value canonical form
// that Sign and Verify both compute the MAC over. Field order is fixed;
// any sender and any verifier that agree on this order reconstruct
// identical bytes regardless of producer.
func signingBytes(e *Envelope) ([]byte, error) {
	params, err := canonicalizeJSON(e.Parameters)
	if err != nil {
		return nil, &ErrEncode{Cause: err}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "schema=%s\n", e.Schema)
	fmt.Fprintf(&buf, "room_id=%s\n", e.RoomID)
	fmt.Fprintf(&buf, "device_id=%s\n", e.DeviceID)
	fmt.Fprintf(&buf, "command_id=%s\n", e.CommandID)
	fmt.Fprintf(&buf, "correlation_id=%s\n", e.CorrelationID)
	fmt.Fprintf(&buf, "sequence=%d\n", e.Sequence)
	fmt.Fprintf(&buf, "issued_at_ms=%d\n", e.IssuedAtMs)
	fmt.Fprintf(&buf, "action=%s\n", e.Action)
	fmt.Fprintf(&buf, "safety_class=%s\n", e.SafetyClass)
	fmt.Fprintf(&buf, "parameters=%s\n", params)
	return buf.Bytes(), nil
}
