package sensor

import (
	"fmt"
	"log/slog"
)

// Origin identifies one hop of a propagation chain: the (node, sensor) whose
// accepted change triggered the next derivation. Expression code can inspect
// this list to detect its own ancestry and break feedback loops.
type Origin struct {
	Node   string
	Sensor string
}

// EvalFunc runs expression code against a symbol table and returns either a
// primitive result or an error. It is supplied by the caller (internal/eval,
// backed by internal/exprlang) so this package stays free of any expression
// grammar dependency.
type EvalFunc func(code string, vars map[string]interface{}) (interface{}, error)

// Sensor is the atomic unit of state: one (node, sensor) value cell.
type Sensor struct {
	// Identity
	Gateway  string
	NodeID   string
	SensorID string

	Config Config

	// State
	Value                 interface{}
	PrevValue             interface{}
	HitsTotal             int64
	HitTimestamp          float64 // wall-clock seconds of the last accepted hit
	DurationSeconds       float64
	DatasetReady          bool
	DatasetUsed           bool
	DebounceHitsRemaining int
	Hold                  bool

	TTLJobID   string // scheduler job id, empty if not armed
	CronJobIDs []string
}

// New constructs a sensor in its idle state: value equals the configured
// default, hits_total is bumped once for BINARY/MESSAGE, the
// construction-time accounting pinned by spec.md section 8's round-trip
// property.
func New(gateway, nodeID, sensorID string, cfg Config) *Sensor {
	s := &Sensor{
		Gateway:  gateway,
		NodeID:   nodeID,
		SensorID: sensorID,
		Config:   cfg,
		Value:    cfg.Default.Value,
	}
	if cfg.Kind == Binary || cfg.Kind == Message {
		s.HitsTotal = 1
	}
	return s
}

// Key returns the (node_id, sensor_id) registry primary-index key.
func (s *Sensor) Key() string { return s.NodeID + "\x00" + s.SensorID }

// AddrKey returns the (node_addr, key) secondary-index key, or "" if the
// sensor has no wire-level alias configured.
func (s *Sensor) AddrKey() string {
	if s.Config.NodeAddr == "" || s.Config.Key == "" {
		return ""
	}
	return s.Config.NodeAddr + "\x00" + s.Config.Key
}

// Set applies one write to the sensor. See spec.md section 4.1 for the full
// pipeline. now is the wall-clock time of this write in epoch seconds, so
// tests can pin it deterministically.
func (s *Sensor) Set(value interface{}, update bool, increment bool, now float64) (bool, error) {
	if s.Hold {
		return false, nil
	}

	coerced, err := Coerce(s.Config.Kind, value)
	if err != nil {
		return false, err
	}

	d := s.Config.Debounce
	if d.HasDropValue() && equalValues(coerced, d.Value) {
		return false, nil
	}
	if d.Changed && equalValues(coerced, s.Value) {
		return false, nil
	}
	if d.Time > 0 && now < s.HitTimestamp+d.Time {
		return false, nil
	}
	if s.DebounceHitsRemaining > 0 {
		s.DebounceHitsRemaining--
		return false, nil
	}
	if d.Hits > 0 {
		s.DebounceHitsRemaining = d.Hits
	}

	if increment {
		if cur, ok := s.Value.(float64); ok {
			if add, ok2 := coerced.(float64); ok2 {
				coerced = cur + add
			}
		}
	}

	if update {
		s.PrevValue = s.Value
	}
	s.Value = coerced

	if update {
		s.HitsTotal++
		s.DurationSeconds = now - s.HitTimestamp
		s.HitTimestamp = now
		if d.Dataset {
			s.DatasetReady = true
		}

		if s.TTLJobID != "" && equalValues(coerced, s.Config.Default.Value) && !s.Config.Default.DefaultReturnTTL {
			s.softReset()
		}
	}

	return true, nil
}

// DoEval evaluates the sensor's derivation code, if any, and applies the
// result via Set. It never returns an error to the caller: interpreter
// failures and missing-require skips both surface as changed=false, per
// spec.md section 7 (ErrEvalRuntime is silent; the interpreter error is
// logged here at debug level).
func (s *Sensor) DoEval(vars map[string]interface{}, origin []Origin, update bool, run EvalFunc) bool {
	if !s.Config.Eval.HasCode() {
		return false
	}
	if len(s.Config.Eval.Require) > 0 && len(vars) == 0 {
		return false
	}

	table := make(map[string]interface{}, len(vars)+6)
	for k, v := range vars {
		table[k] = v
	}
	table["value"] = s.Value
	table["prev_value"] = s.PrevValue
	table["hits_total"] = s.HitsTotal
	table["hit_timestamp"] = s.HitTimestamp
	table["duration_seconds"] = s.DurationSeconds

	originList := make([]interface{}, len(origin))
	for i, o := range origin {
		originList[i] = []interface{}{o.Node, o.Sensor}
	}
	table["origin"] = originList

	result, err := run(s.Config.Eval.Code, table)
	if err != nil {
		slog.Debug("sensor: eval failed", "node", s.NodeID, "sensor", s.SensorID, "error", err)
		return false
	}
	if result == nil {
		return false
	}

	changed, err := s.Set(result, update, false, s.HitTimestamp)
	if err != nil {
		return false
	}
	return changed
}

// Reset performs a soft reset: returns the sensor to its default value,
// clears dataset/debounce bookkeeping, and clears the armed TTL job id
// (TTLJobID); cancelling the scheduler job itself is left to the registry,
// which holds the job handle. It reports whether the value actually changed.
func (s *Sensor) Reset() bool {
	return s.softReset()
}

func (s *Sensor) softReset() bool {
	changed := !equalValues(s.Value, s.Config.Default.Value)
	s.Value = s.Config.Default.Value
	s.DatasetReady = false
	s.DatasetUsed = false
	s.DebounceHitsRemaining = 0
	s.TTLJobID = ""
	if s.Config.Kind == Binary {
		s.HitsTotal++
	}
	return changed
}

// HardReset reconstructs the sensor's value/timestamp state from its static
// config, as if freshly constructed, but keeps identity and config intact.
// Used by the registry's bulk ResetValues operation.
func (s *Sensor) HardReset() {
	fresh := New(s.Gateway, s.NodeID, s.SensorID, s.Config)
	s.Value = fresh.Value
	s.PrevValue = nil
	s.HitsTotal = fresh.HitsTotal
	s.HitTimestamp = 0
	s.DurationSeconds = 0
	s.DatasetReady = false
	s.DatasetUsed = false
	s.DebounceHitsRemaining = 0
	s.TTLJobID = ""
	s.CronJobIDs = nil
}

// SetHold toggles the write-blocking flag. release=true clears the hold.
func (s *Sensor) SetHold(release bool) {
	s.Hold = !release
}

// Metric reads one of the five metrics DoEval's require resolution and the
// by-X projections expose.
func (s *Sensor) Metric(name string) (interface{}, bool) {
	switch name {
	case "value":
		return s.Value, s.Value != nil
	case "prev_value":
		return s.PrevValue, s.PrevValue != nil
	case "hits_total":
		return s.HitsTotal, true
	case "hit_timestamp":
		return s.HitTimestamp, true
	case "duration_seconds":
		return s.DurationSeconds, true
	default:
		return nil, false
	}
}

// Clone creates a fresh, independent sensor instance for the given concrete
// node, copying this sensor's (template) configuration. Used for first-touch
// template instantiation.
func (s *Sensor) Clone(nodeID string) *Sensor {
	return New(s.Gateway, nodeID, s.SensorID, s.Config)
}

// Equal reports whether two coerced sensor values are the same, by the same
// rules Set uses for debounce and break_value comparisons.
func Equal(a, b interface{}) bool { return equalValues(a, b) }

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}
