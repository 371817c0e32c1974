package sensor

// DefaultConfig describes the sensor's idle value and whether reaching it
// re-arms the TTL job instead of disarming it.
type DefaultConfig struct {
	Value            interface{}
	DefaultReturnTTL bool
}

// Debounce controls which writes are dropped before they reach the value.
type Debounce struct {
	Changed bool        // drop if coerced value equals current value
	Time    float64     // minimum inter-arrival seconds, 0 = disabled
	Hits    int         // drop N subsequent writes after an accepted one, 0 = disabled
	Dataset bool        // this sensor participates in a synchronous dataset
	Value   interface{} // drop if the coerced value equals this literal (only when hasValue)
	hasValue bool       // whether Value was explicitly configured
}

// SetDropValue configures the literal drop-value and marks it as present;
// Debounce.Value alone can't distinguish "unset" from "drop on nil".
func (d *Debounce) SetDropValue(v interface{}) {
	d.Value = v
	d.hasValue = true
}

// HasDropValue reports whether a literal drop-value was configured.
func (d Debounce) HasDropValue() bool { return d.hasValue }

// RequireRef is one entry of eval.require: a reference to another sensor's
// metric, either relative to the owning sensor's own node (length 2, Node
// empty) or fully qualified (length 3).
type RequireRef struct {
	Node     string // empty means "same node as the requiring sensor"
	SensorID string
	Metric   string // one of value, prev_value, hits_total, hit_timestamp, duration_seconds
}

// EvalConfig is the derivation attached to a sensor.
type EvalConfig struct {
	Code        string
	Require     map[string]RequireRef
	SkipExpired bool
	BreakValue  interface{}
	hasBreak    bool
}

// SetBreakValue configures the propagation break value.
func (e *EvalConfig) SetBreakValue(v interface{}) {
	e.BreakValue = v
	e.hasBreak = true
}

// HasBreakValue reports whether a break value was configured.
func (e EvalConfig) HasBreakValue() bool { return e.hasBreak }

// HasCode reports whether this sensor derives its value from an expression.
func (e EvalConfig) HasCode() bool { return e.Code != "" }

// ExportConfig controls how a sensor appears on the metrics scrape endpoint.
type ExportConfig struct {
	Hidden bool
	Prefix string
	Labels map[string]string
}

// CronEntry is one "<spec>": value entry of a sensor's cron block. A nil
// Value means "re-assert the current value" when the trigger fires.
type CronEntry struct {
	Spec  string
	Value interface{}
}

// Config is the static, declarative configuration of a sensor, as loaded
// from the gateway/node/sensor document.
type Config struct {
	Kind     Kind
	Role     Role
	Default  DefaultConfig
	TTL      *float64 // seconds, nil = no TTL
	Debounce Debounce
	Eval     EvalConfig
	Cron     []CronEntry
	Export   ExportConfig
	Group    string
	Desc     string
	NodeAddr string // wire-level node alias, optional
	Key      string // wire-level sensor alias, optional
}
