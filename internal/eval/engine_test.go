package eval

import (
	"errors"
	"testing"

	"sensorhub.dev/hub/internal/sensor"
)

type fakeGraph struct {
	sensors map[string]*sensor.Sensor
}

func newFakeGraph() *fakeGraph { return &fakeGraph{sensors: make(map[string]*sensor.Sensor)} }

func (g *fakeGraph) add(s *sensor.Sensor) { g.sensors[s.Key()] = s }

func (g *fakeGraph) Lookup(nodeID, sensorID string) (*sensor.Sensor, bool) {
	s, ok := g.sensors[nodeID+"\x00"+sensorID]
	return s, ok
}

func gaugeCfg() sensor.Config {
	return sensor.Config{Kind: sensor.Gauge, Default: sensor.DefaultConfig{Value: 0.0}}
}

func passthroughRun(code string, vars map[string]interface{}) (interface{}, error) {
	switch code {
	case "fahrenheit":
		c, ok := vars["celsius"].(float64)
		if !ok {
			return nil, errors.New("missing celsius")
		}
		return c*9/5 + 32, nil
	case "boom":
		return nil, errors.New("boom")
	default:
		return nil, errors.New("unknown code")
	}
}

func TestCollectRequiredVars_MissingSensor(t *testing.T) {
	g := newFakeGraph()
	e := NewEngine(g, passthroughRun)

	dep := sensor.New("gw", "n1", "f", gaugeCfg())
	dep.Config.Eval.Require = map[string]sensor.RequireRef{
		"celsius": {SensorID: "c", Metric: "value"},
	}

	if _, ok := e.CollectRequiredVars(dep); ok {
		t.Fatal("expected ok=false when required sensor is missing")
	}
}

func TestCollectRequiredVars_DatasetNotReady(t *testing.T) {
	g := newFakeGraph()
	e := NewEngine(g, passthroughRun)

	src := sensor.New("gw", "n1", "c", gaugeCfg())
	src.Config.Debounce.Dataset = true
	g.add(src)

	dep := sensor.New("gw", "n1", "f", gaugeCfg())
	dep.Config.Eval.Require = map[string]sensor.RequireRef{
		"celsius": {SensorID: "c", Metric: "value"},
	}

	if _, ok := e.CollectRequiredVars(dep); ok {
		t.Fatal("expected ok=false when dataset member isn't ready")
	}
}

func TestPropagateFrom_SingleHop(t *testing.T) {
	g := newFakeGraph()
	e := NewEngine(g, passthroughRun)

	src := sensor.New("gw", "n1", "c", gaugeCfg())
	g.add(src)

	dep := sensor.New("gw", "n1", "f", gaugeCfg())
	dep.Config.Eval.Code = "fahrenheit"
	dep.Config.Eval.Require = map[string]sensor.RequireRef{
		"celsius": {SensorID: "c", Metric: "value"},
	}
	g.add(dep)
	e.Index(dep)

	src.Value = 100.0
	var changedList []string
	e.PropagateFrom(src, func(s *sensor.Sensor) { changedList = append(changedList, s.SensorID) })

	if dep.Value != 212.0 {
		t.Fatalf("dep.Value = %v, want 212.0", dep.Value)
	}
	if len(changedList) != 1 || changedList[0] != "f" {
		t.Fatalf("onChanged called with %v, want [f]", changedList)
	}
}

func TestPropagateFrom_BreakValueStopsWalk(t *testing.T) {
	g := newFakeGraph()
	e := NewEngine(g, passthroughRun)

	src := sensor.New("gw", "n1", "c", gaugeCfg())
	src.Config.Eval.SetBreakValue(-1.0)
	src.Value = -1.0
	g.add(src)

	dep := sensor.New("gw", "n1", "f", gaugeCfg())
	dep.Config.Eval.Code = "fahrenheit"
	dep.Config.Eval.Require = map[string]sensor.RequireRef{
		"celsius": {SensorID: "c", Metric: "value"},
	}
	g.add(dep)
	e.Index(dep)

	called := false
	e.PropagateFrom(src, func(s *sensor.Sensor) { called = true })

	if called {
		t.Fatal("expected propagation to stop at break_value without touching dependents")
	}
	if dep.Value != 0.0 {
		t.Fatalf("dep.Value = %v, want unchanged 0.0", dep.Value)
	}
}

func TestPropagateFrom_DepthBound(t *testing.T) {
	g := newFakeGraph()
	e := NewEngine(g, passthroughRun)

	// Build a chain a0 -> a1 -> ... -> a9, each deriving "fahrenheit" from
	// its predecessor, to exercise the depth-8 termination invariant.
	const n = 10
	sensors := make([]*sensor.Sensor, n)
	for i := 0; i < n; i++ {
		sensors[i] = sensor.New("gw", "n1", sensorName(i), gaugeCfg())
		g.add(sensors[i])
	}
	for i := 1; i < n; i++ {
		sensors[i].Config.Eval.Code = "fahrenheit"
		sensors[i].Config.Eval.Require = map[string]sensor.RequireRef{
			"celsius": {SensorID: sensorName(i - 1), Metric: "value"},
		}
		e.Index(sensors[i])
	}

	sensors[0].Value = 1.0
	changedCount := 0
	e.PropagateFrom(sensors[0], func(s *sensor.Sensor) { changedCount++ })

	if changedCount >= n-1 {
		t.Fatalf("changedCount = %d, expected propagation to stop before reaching the tail (depth bound)", changedCount)
	}
}

func sensorName(i int) string {
	return string(rune('a' + i))
}

func TestResetUsedDatasets(t *testing.T) {
	g := newFakeGraph()
	e := NewEngine(g, passthroughRun)

	src := sensor.New("gw", "n1", "c", gaugeCfg())
	src.Config.Debounce.Dataset = true
	src.DatasetReady = true
	g.add(src)

	dep := sensor.New("gw", "n1", "f", gaugeCfg())
	dep.Config.Eval.Require = map[string]sensor.RequireRef{
		"celsius": {SensorID: "c", Metric: "value"},
	}

	if _, ok := e.CollectRequiredVars(dep); !ok {
		t.Fatal("expected ok=true once the dataset member is ready")
	}
	if !src.DatasetUsed {
		t.Fatal("expected src to be marked used")
	}

	e.ResetUsedDatasets()
	if src.DatasetReady || src.DatasetUsed {
		t.Fatal("expected dataset flags cleared after ResetUsedDatasets")
	}
}

func TestSelf_NoCodeIsNoop(t *testing.T) {
	g := newFakeGraph()
	e := NewEngine(g, passthroughRun)

	s := sensor.New("gw", "n1", "x", gaugeCfg())
	if e.Self(s, true) {
		t.Fatal("expected Self to be a no-op when eval.code is unset")
	}
}

func TestSelf_ErrorIsSilentlyIgnored(t *testing.T) {
	g := newFakeGraph()
	e := NewEngine(g, passthroughRun)

	s := sensor.New("gw", "n1", "x", gaugeCfg())
	s.Config.Eval.Code = "boom"
	if e.Self(s, true) {
		t.Fatal("expected Self to report no change when the evaluator errors")
	}
}
