// Package fieldpath resolves dotted paths like "LK13BE.total" inside
// decoded JSON payloads. Sensor firmwares nest their measurements under
// vendor-specific keys, so the lookup is driven purely by configuration
// data rather than by typed payload structs.
package fieldpath

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Resolve walks path through nested JSON objects in root and returns the
// numeric value at the end of it. The boolean result is false when any
// path segment is missing, when an intermediate value is not an object,
// or when the final value is absent, non-numeric, or non-finite.
func Resolve(root map[string]interface{}, path string) (float64, bool) {
	if path == "" {
		return 0, false
	}

	var current interface{} = root
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return 0, false
		}
		current, ok = obj[part]
		if !ok {
			return 0, false
		}
	}

	val, ok := toFloat(current)
	if !ok || math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, false
	}
	return val, true
}

// toFloat converts the loosely-typed values encoding/json produces into
// a float64. Some firmwares quote their numbers, so numeric strings are
// accepted too.
func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
