// Package record holds the flattened row representation shared by the partitioner and merger.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// IDField is the column used to deduplicate rows.
const IDField = "id"

// Record is a flattened row: nested keys are joined with Separator.
type Record map[string]string

// Separator joins nested object keys ("attributes.createdAt").
const Separator = "."

// ID returns the record identifier, or "" if absent.
func (r Record) ID() string {
	return r[IDField]
}

// Flatten turns a decoded JSON object into a Record. Nested objects become dotted
// keys and empty objects are dropped; arrays are kept as their compact JSON encoding; null becomes "".
// Numbers should be decoded with json.Decoder.UseNumber to keep their textual form.
func Flatten(raw map[string]any) Record {
	out := make(Record, len(raw))
	flattenInto(out, "", raw)
	return out
}

// FlattenAll flattens a batch of decoded objects, preserving order.
func FlattenAll(raws []map[string]any) []Record {
	out := make([]Record, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Flatten(raw))
	}
	return out
}

func flattenInto(out Record, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}
		if nested, ok := v.(map[string]any); ok {
			// an empty object contributes no column
			flattenInto(out, key, nested)
			continue
		}
		out[key] = stringify(v)
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
