package domain

import (
	"fmt"
	"math"
	"strconv"

	json "github.com/goccy/go-json"
)

// Value is a block parameter or result value. The closed set of shapes
// is nil, string, float64, bool, []Value and map[string]Value; anything
// crossing the engine boundary is normalized into that set so node
// results and variables survive a JSON round trip unchanged.
type Value = any

// NormalizeValue coerces v into the closed Value set. Integers become
// float64, typed slices and maps are rebuilt element by element, and
// structs are flattened through a JSON round trip.
func NormalizeValue(v any) (Value, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, NewValueError(fmt.Sprintf("invalid number %q", t.String()))
		}
		return f, nil
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			norm, err := NormalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			norm, err := NormalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = norm
		}
		return out, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, NewValueError(fmt.Sprintf("unsupported value type %T", v))
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, NewValueError(fmt.Sprintf("unsupported value type %T", v))
		}
		// A round trip through JSON only yields the closed set plus nested
		// combinations of it, so one more pass terminates.
		return NormalizeValue(decoded)
	}
}

// Stringify renders a value the way templates substitute it: strings
// verbatim, numbers without a trailing ".0" when whole, composites as
// compact JSON.
func Stringify(v Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}

// AsBool interprets a value as a boolean: bools directly, the strings
// "true"/"false" case-sensitively, and numbers as non-zero.
func AsBool(v Value) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		if t == "true" {
			return true, true
		}
		if t == "false" {
			return false, true
		}
		return false, false
	case float64:
		return t != 0, true
	default:
		return false, false
	}
}

// AsFloat interprets a value as a number.
func AsFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsSlice interprets a value as a list.
func AsSlice(v Value) ([]Value, bool) {
	s, ok := v.([]Value)
	return s, ok
}

// CopyVariables returns a shallow copy of a variable map so callers can
// hand out read views without exposing engine-owned state.
func CopyVariables(vars map[string]Value) map[string]Value {
	out := make(map[string]Value, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
