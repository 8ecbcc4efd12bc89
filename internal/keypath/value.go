package keypath

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Normalize converts v to the encoding/json document model and returns a
// deep copy that shares nothing with v. Values already in that model are
// copied directly; anything else (structs, typed maps, integers) goes through
// a JSON round trip.
func Normalize(v any) (any, error) {
	if out, ok := copyModel(v); ok {
		return out, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// Clone deep copies a document. Values outside the JSON model are returned
// as is.
func Clone(v any) any {
	if out, ok := copyModel(v); ok {
		return out
	}
	return v
}

// Equal reports whether two documents are deeply equal.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func copyModel(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case bool, string:
		return t, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, false
		}
		return t, true
	case map[string]any:
		if t == nil {
			return nil, true
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			c, ok := copyModel(e)
			if !ok {
				return nil, false
			}
			out[k] = c
		}
		return out, true
	case []any:
		if t == nil {
			return nil, true
		}
		out := make([]any, len(t))
		for i, e := range t {
			c, ok := copyModel(e)
			if !ok {
				return nil, false
			}
			out[i] = c
		}
		return out, true
	}
	return nil, false
}
