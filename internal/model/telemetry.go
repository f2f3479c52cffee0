package model

import (
	"encoding/json"
	"strconv"
)

// FieldTimestamp carries the device clock as Unix seconds.
const FieldTimestamp = "timestamp"

// TelemetryRecord is one decoded stream frame: a flat field-name to value map.
// Values are float64, string, bool or nil once decoded from JSON.
type TelemetryRecord map[string]any

// Float returns the field as float64 when it holds a number.
func (r TelemetryRecord) Float(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// FormatValue renders a decoded JSON value the way a page shows it:
// integral numbers without a decimal point, bools as true/false, nil as empty.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
