// Package sensor implements the typed value cell that is the atomic unit of
// state in the hub: a single (node, sensor) reading with debounce, TTL
// bookkeeping, and kind-aware coercion.
package sensor

import "fmt"

// Kind is the declared value type of a sensor.
type Kind string

const (
	Gauge   Kind = "gauge"   // real number
	Counter Kind = "counter" // monotonic real number
	Binary  Kind = "binary"  // boolean
	Message Kind = "message" // string, hidden from metrics scrape by default
)

// Role distinguishes inputs pushed by gateways from outputs fanned back to them.
type Role string

const (
	RoleSensor   Role = "sensor"
	RoleActuator Role = "actuator"
)

// trueStrings and falseStrings are the exact enumerated string mappings from
// spec.md section 4.1 / the laporte coercion table. Any other non-empty
// string coerces to true, matching the source's bool(s) fallback.
var trueStrings = map[string]bool{
	"True": true, "true": true, "ON": true, "On": true, "on": true,
	"OK": true, "Yes": true, "yes": true, "1": true,
}

var falseStrings = map[string]bool{
	"False": true, "false": true, "OFF": true, "Off": true, "off": true,
	"NOK": true, "No": true, "no": true, "0": true,
}

// Coerce converts an arbitrary input value to the representation the given
// kind stores. GAUGE and COUNTER coerce numeric-looking strings to float64;
// BINARY applies the enumerated string table (and passes booleans through);
// MESSAGE is pass-through to string. A nil value coerces to nil unchanged.
func Coerce(kind Kind, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch kind {
	case Gauge, Counter:
		return coerceFloat(value)
	case Binary:
		return coerceBool(value)
	case Message:
		return coerceString(value), nil
	default:
		return nil, fmt.Errorf("sensor: unknown kind %q", kind)
	}
}

func coerceFloat(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
			return nil, fmt.Errorf("sensor: cannot coerce %q to number: %w", v, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("sensor: cannot coerce %T to number", value)
	}
}

func coerceBool(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		if trueStrings[v] {
			return true, nil
		}
		if falseStrings[v] {
			return false, nil
		}
		return v != "", nil
	default:
		return nil, fmt.Errorf("sensor: cannot coerce %T to boolean", value)
	}
}

func coerceString(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
