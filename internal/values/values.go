// Package values normalizes loosely-typed template scalars.
package values

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseNumber converts numbers and numeric strings into a float64.
// The second return value is false when val is absent, blank, boolean or not a finite number.
func ParseNumber(val any) (float64, bool) {
	switch v := val.(type) {
	case nil:
		return 0, false
	case float64:
		return v, finite(v)
	case float32:
		return float64(v), finite(float64(v))
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		return 0, false
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	default:
		return ParseNumber(fmt.Sprintf("%v", v))
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ParseBoolean converts booleans and boolean-like strings (on/off, yes/no, y/n, true/false).
func ParseBoolean(val any) (bool, bool) {
	switch v := val.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "on", "true", "yes", "y":
			return true, true
		case "off", "false", "no", "n":
			return false, true
		}
	}
	return false, false
}

// Number returns val as an int64 when it is integral, or as a float64 otherwise.
// Values that do not parse are returned unchanged.
func Number(val any) any {
	f, ok := ParseNumber(val)
	if !ok {
		return val
	}
	if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
		return int64(f)
	}
	return f
}

// Boolean returns val as a bool when it parses, unchanged otherwise.
func Boolean(val any) any {
	if b, ok := ParseBoolean(val); ok {
		return b
	}
	return val
}

// IsEmpty reports whether val is nil, a blank string, or an empty slice or map.
func IsEmpty(val any) bool {
	switch v := val.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case map[string]string:
		return len(v) == 0
	}
	return false
}

// CleanEmpty returns a deep copy of val with empty values removed from maps and slices.
func CleanEmpty(val any) any {
	switch v := val.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			cleaned := CleanEmpty(item)
			if IsEmpty(cleaned) {
				continue
			}
			out[k] = cleaned
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			cleaned := CleanEmpty(item)
			if IsEmpty(cleaned) {
				continue
			}
			out = append(out, cleaned)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if IsEmpty(item) {
				continue
			}
			out[k] = item
		}
		return out
	case []string:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if IsEmpty(item) {
				continue
			}
			out = append(out, item)
		}
		return out
	}
	return val
}

// Clone returns a deep copy of maps and slices built from template data.
// Maps with non-string keys come back keyed by their string form.
func Clone(val any) any {
	switch v := val.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Clone(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[String(k)] = Clone(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			out[k] = item
		}
		return out
	case []string:
		return append([]string(nil), v...)
	}
	return val
}

// CloneMap deep-copies a property map. A nil map yields an empty one.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Clone(m).(map[string]any)
}

// String renders a scalar as a string, returning "" for nil.
func String(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	return fmt.Sprintf("%v", val)
}
