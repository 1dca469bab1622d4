// Package canonical produces deterministic JSON bytes for JSON-like values.
// Hash computation over audit entries depends on two logically-equal inputs
// always serializing to byte-identical output, across processes and
// architectures.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Marshal returns deterministic JSON bytes for an arbitrary JSON-like value.
// Rules:
//   - Objects (map[string]interface{}): keys sorted lexicographically.
//   - Arrays: order preserved.
//   - time.Time: RFC 3339 with nanoseconds, normalized to UTC.
//   - json.Number: textual representation preserved verbatim.
//   - Other values: encoded via encoding/json, re-decoded with UseNumber
//     where needed to keep number formatting stable.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := write(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func write(buf *bytes.Buffer, v interface{}) error {
	switch vv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if vv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case json.Number:
		buf.WriteString(vv.String())
	case int:
		fmt.Fprintf(buf, "%d", vv)
	case int64:
		fmt.Fprintf(buf, "%d", vv)
	case float64:
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case time.Time:
		b, _ := json.Marshal(vv.UTC().Format(time.RFC3339Nano))
		buf.Write(b)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := write(buf, vv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Structs and other typed values: marshal, then re-decode with
		// UseNumber so numeric formatting stays stable, and encode again.
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Errorf("canonical marshal fallback: %w", err)
		}
		var tmp interface{}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&tmp); err != nil {
			return fmt.Errorf("canonical decode fallback: %w", err)
		}
		return write(buf, tmp)
	}
	return nil
}
