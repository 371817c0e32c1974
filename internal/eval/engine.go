// Package eval implements the dependency resolution and bounded propagation
// that re-derives sensors whose eval.require references a just-changed
// sensor ("the eval graph" of spec.md section 4.3).
package eval

import (
	"fmt"
	"log/slog"

	"sensorhub.dev/hub/internal/sensor"
)

// maxDepth bounds every propagation walk per spec.md invariant I5.
const maxDepth = 8

// Graph is the minimal registry surface the engine needs: resolving a
// (node, sensor) reference to its live Sensor.
type Graph interface {
	Lookup(nodeID, sensorID string) (*sensor.Sensor, bool)
}

// Engine resolves eval.require references and walks the reverse-dependency
// edges of the sensor graph. It holds no lock of its own: callers (the
// Registry) are responsible for serializing all graph mutation, per
// spec.md section 5.
type Engine struct {
	graph      Graph
	run        sensor.EvalFunc
	logger     *slog.Logger
	dependents map[string][]*sensor.Sensor // prerequisite key -> dependents requiring it
	usedWave   []*sensor.Sensor            // dataset sensors read during the current wave
}

// NewEngine constructs an engine over the given graph, using run to
// evaluate expression code (ordinarily exprlang.Eval).
func NewEngine(graph Graph, run sensor.EvalFunc) *Engine {
	if run == nil {
		run = func(code string, vars map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("eval: no expression evaluator configured")
		}
	}
	return &Engine{
		graph:      graph,
		run:        run,
		logger:     slog.Default(),
		dependents: make(map[string][]*sensor.Sensor),
	}
}

// SetLogger overrides the default logger.
func (e *Engine) SetLogger(l *slog.Logger) { e.logger = l }

// Reset clears all indexed dependency edges and dataset bookkeeping,
// keeping the configured evaluator and logger. Called by the registry at
// the start of a full config reload.
func (e *Engine) Reset() {
	e.dependents = make(map[string][]*sensor.Sensor)
	e.usedWave = nil
}

// Index registers s's eval.require edges so that future changes to its
// prerequisites find s via Dependents. Called once per sensor instance, at
// config load and at template-clone time.
func (e *Engine) Index(s *sensor.Sensor) {
	for _, ref := range s.Config.Eval.Require {
		nodeID := ref.Node
		if nodeID == "" {
			nodeID = s.NodeID
		}
		key := nodeID + "\x00" + ref.SensorID
		e.dependents[key] = append(e.dependents[key], s)
	}
}

// Dependents returns the sensors whose eval.require references s, in
// insertion (registration) order, deduplicated.
func (e *Engine) Dependents(s *sensor.Sensor) []*sensor.Sensor {
	seen := make(map[string]bool)
	var out []*sensor.Sensor
	for _, dep := range e.dependents[s.Key()] {
		if seen[dep.Key()] {
			continue
		}
		seen[dep.Key()] = true
		out = append(out, dep)
	}
	return out
}

// CollectRequiredVars resolves every eval.require entry of s into the
// symbol table DoEval needs, or reports ok=false when derivation should be
// skipped (a referenced sensor/metric is missing, or a dataset sensor isn't
// ready yet). Successfully-read dataset sensors are marked used.
func (e *Engine) CollectRequiredVars(s *sensor.Sensor) (map[string]interface{}, bool) {
	if len(s.Config.Eval.Require) == 0 {
		return map[string]interface{}{}, true
	}

	vars := make(map[string]interface{}, len(s.Config.Eval.Require))
	for name, ref := range s.Config.Eval.Require {
		nodeID := ref.Node
		if nodeID == "" {
			nodeID = s.NodeID
		}
		target, ok := e.graph.Lookup(nodeID, ref.SensorID)
		if !ok {
			e.logger.Debug("eval: required sensor not found", "node", nodeID, "sensor", ref.SensorID)
			return nil, false
		}
		if target.Config.Debounce.Dataset && !target.DatasetReady {
			return nil, false
		}
		val, ok := target.Metric(ref.Metric)
		if !ok || val == nil {
			e.logger.Debug("eval: required metric unavailable", "node", nodeID, "sensor", ref.SensorID, "metric", ref.Metric)
			return nil, false
		}
		vars[name] = val
		if target.Config.Debounce.Dataset {
			e.markUsed(target)
		}
	}
	return vars, true
}

func (e *Engine) markUsed(s *sensor.Sensor) {
	if s.DatasetUsed {
		return
	}
	s.DatasetUsed = true
	e.usedWave = append(e.usedWave, s)
}

// Self runs s's own derivation, if it has one, refreshing its value without
// resetting hit/TTL metadata when update is false. It mirrors the
// "derivation runs on the just-written sensor itself" step of spec.md's
// dataflow description.
func (e *Engine) Self(s *sensor.Sensor, update bool) bool {
	if !s.Config.Eval.HasCode() {
		return false
	}
	vars, ok := e.CollectRequiredVars(s)
	if !ok {
		return false
	}
	return s.DoEval(vars, nil, update, e.run)
}

// PropagateFrom walks the reverse-dependency edges of s, re-deriving every
// dependent (and transitively theirs) up to maxDepth. onChanged is invoked
// for every sensor whose value actually changed, so the caller can re-arm
// TTL jobs and feed the change into the ChangeBus snapshot.
func (e *Engine) PropagateFrom(s *sensor.Sensor, onChanged func(*sensor.Sensor)) {
	visited := map[string]bool{s.Key(): true}
	e.propagate(s, 0, nil, visited, onChanged)
}

func (e *Engine) propagate(s *sensor.Sensor, depth int, origin []sensor.Origin, visited map[string]bool, onChanged func(*sensor.Sensor)) {
	if depth >= maxDepth {
		return
	}
	if s.Config.Eval.HasBreakValue() && sensor.Equal(s.Value, s.Config.Eval.BreakValue) {
		return
	}

	for _, dep := range e.Dependents(s) {
		if visited[dep.Key()] {
			continue
		}
		visited[dep.Key()] = true

		vars, ok := e.CollectRequiredVars(dep)
		if !ok {
			continue
		}

		nextOrigin := make([]sensor.Origin, len(origin)+1)
		copy(nextOrigin, origin)
		nextOrigin[len(origin)] = sensor.Origin{Node: s.NodeID, Sensor: s.SensorID}

		if !dep.DoEval(vars, nextOrigin, true, e.run) {
			continue
		}
		if onChanged != nil {
			onChanged(dep)
		}
		e.propagate(dep, depth+1, nextOrigin, visited, onChanged)
	}
}

// ResetUsedDatasets clears dataset_ready/dataset_used on every sensor that
// was read as a dataset member during the wave just completed, per
// spec.md invariant I6. Call once per externally-initiated operation,
// after propagation settles.
func (e *Engine) ResetUsedDatasets() {
	for _, s := range e.usedWave {
		s.DatasetReady = false
		s.DatasetUsed = false
	}
	e.usedWave = e.usedWave[:0]
}
