package registry

import (
	"testing"

	"sensorhub.dev/hub/internal/changebus"
	"sensorhub.dev/hub/internal/config"
	"sensorhub.dev/hub/internal/exprlang"
	"sensorhub.dev/hub/internal/scheduler"
)

type capturedEvents struct{ diffs []changebus.Diff }

func (c *capturedEvents) PublishEvent(diff changebus.Diff) { c.diffs = append(c.diffs, diff) }

type capturedActuators struct {
	fanouts []map[string]map[string]interface{}
}

func (c *capturedActuators) PublishActuator(gw string, byID, byAddr map[string]map[string]interface{}) {
	c.fanouts = append(c.fanouts, byID)
}

func newTestRegistry(t *testing.T) (*Registry, *capturedEvents) {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(sched.Stop)

	r := New(sched)
	r.SetEvalRunner(exprlang.Eval)
	events := &capturedEvents{}
	bus := changebus.New(r, events, &capturedActuators{}, nil)
	r.SetBus(bus)
	return r, events
}

func loadYAML(t *testing.T, r *Registry, yamlDoc string) {
	t.Helper()
	doc, err := config.Parse([]byte(yamlDoc))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.LoadConfig(doc); err != nil {
		t.Fatal(err)
	}
}

func TestScenario1_DebounceChanged(t *testing.T) {
	r, _ := newTestRegistry(t)
	loadYAML(t, r, `
gw1:
  n1:
    sensors:
      temp:
        type: gauge
        debounce:
          changed: true
`)

	diff, err := r.SetNodeValues("n1", []SensorWrite{{"temp", 21.0}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff["n1"]["temp"]["value"] != 21.0 || diff["n1"]["temp"]["hits_total"] != int64(1) {
		t.Fatalf("got %+v", diff)
	}

	diff, err = r.SetNodeValues("n1", []SensorWrite{{"temp", 21.0}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff) != 0 {
		t.Fatalf("expected empty diff on repeated identical value, got %+v", diff)
	}

	diff, err = r.SetNodeValues("n1", []SensorWrite{{"temp", 21.5}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff["n1"]["temp"]["value"] != 21.5 || diff["n1"]["temp"]["hits_total"] != int64(2) {
		t.Fatalf("got %+v", diff)
	}
}

func TestScenario2_TTLDefaultReturnFalse(t *testing.T) {
	r, _ := newTestRegistry(t)
	loadYAML(t, r, `
gw1:
  door:
    sensors:
      open:
        type: binary
        default:
          value: false
          default_return_ttl: false
        ttl: 5
`)

	diff, err := r.SetNodeValues("door", []SensorWrite{{"open", true}}, false)
	if err != nil {
		t.Fatal(err)
	}
	exp, ok := diff["door"]["open"]["exp_timestamp"].(float64)
	if !ok || exp <= 0 {
		t.Fatalf("expected an armed exp_timestamp, got %+v", diff["door"]["open"])
	}

	diff, err = r.SetNodeValues("door", []SensorWrite{{"open", false}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff["door"]["open"]["exp_timestamp"] != nil {
		t.Fatalf("expected exp_timestamp:null after returning to default, got %+v", diff["door"]["open"])
	}
}

func TestScenario3_CascadingEval(t *testing.T) {
	r, _ := newTestRegistry(t)
	loadYAML(t, r, `
gw1:
  a:
    sensors:
      x:
        type: gauge
      y:
        type: gauge
        eval:
          code: "x * 2"
          require:
            x: [x, value]
`)

	diff, err := r.SetNodeValues("a", []SensorWrite{{"x", 3.0}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff["a"]["x"]["value"] != 3.0 {
		t.Fatalf("got %+v", diff)
	}
	if diff["a"]["y"]["value"] != 6.0 {
		t.Fatalf("got %+v", diff)
	}
}

func TestScenario4_CycleBound(t *testing.T) {
	r, _ := newTestRegistry(t)

	var yamlDoc = "gw1:\n  a:\n    sensors:\n      s0:\n        type: gauge\n"
	for i := 1; i < 10; i++ {
		yamlDoc += sensorChainEntry(i)
	}
	loadYAML(t, r, yamlDoc)

	diff, err := r.SetNodeValues("a", []SensorWrite{{"s0", 1.0}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if v := diff["a"]["s9"]["value"]; v != nil {
		t.Fatalf("expected the 9th dependent (depth 9) to never update, got %+v", diff["a"]["s9"])
	}
}

func sensorChainEntry(i int) string {
	prev := "s" + itoa(i-1)
	curr := "s" + itoa(i)
	return "      " + curr + ":\n" +
		"        type: gauge\n" +
		"        eval:\n" +
		"          code: \"v * 2\"\n" +
		"          require:\n" +
		"            v: [" + prev + ", value]\n"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}

func TestScenario6_TemplateInstantiation(t *testing.T) {
	r, _ := newTestRegistry(t)
	loadYAML(t, r, `
gw1:
  1:
    sensors:
      humidity:
        type: gauge
`)

	diff, err := r.SetNodeValues("room42", []SensorWrite{{"humidity", 55.0}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff["room42"]["humidity"]["value"] != 55.0 {
		t.Fatalf("got %+v", diff)
	}
}

func TestSetNodeValues_UnknownSensorAborts(t *testing.T) {
	r, _ := newTestRegistry(t)
	loadYAML(t, r, `
gw1:
  n1:
    sensors:
      temp:
        type: gauge
`)
	if _, err := r.SetNodeValues("n1", []SensorWrite{{"doesnotexist", 1.0}}, false); err == nil {
		t.Fatal("expected ErrNotFound for an unknown sensor with no matching template")
	}
}

func TestDefaultValues_ResetsToDefault(t *testing.T) {
	r, _ := newTestRegistry(t)
	loadYAML(t, r, `
gw1:
  n1:
    sensors:
      temp:
        type: gauge
        default:
          value: 0.0
`)
	if _, err := r.SetNodeValues("n1", []SensorWrite{{"temp", 42.0}}, false); err != nil {
		t.Fatal(err)
	}
	r.DefaultValues()
	m, ok := r.GetMetricOfSensor("n1", "temp")
	if !ok || m["value"] != 0.0 {
		t.Fatalf("expected temp to return to its default, got %+v", m)
	}
}

func TestResetValues_ZeroesHitsAndReregistersCron(t *testing.T) {
	r, _ := newTestRegistry(t)
	loadYAML(t, r, `
gw1:
  n1:
    sensors:
      beacon:
        type: binary
        cron:
          "* * * * * *": true
`)
	if _, err := r.SetNodeValues("n1", []SensorWrite{{"beacon", true}}, false); err != nil {
		t.Fatal(err)
	}
	if err := r.ResetValues(); err != nil {
		t.Fatal(err)
	}
	m, ok := r.GetMetricOfSensor("n1", "beacon")
	if !ok {
		t.Fatal("expected beacon to still exist after reset")
	}
	if m["hits_total"] != int64(1) {
		t.Fatalf("expected hits_total reset to the BINARY construction count, got %v", m["hits_total"])
	}
	if m["cron_timestamp"] == nil {
		t.Fatal("expected cron to have been re-registered after hard reset")
	}
}

func TestConvertAddrsToIds(t *testing.T) {
	r, _ := newTestRegistry(t)
	loadYAML(t, r, `
gw1:
  n1:
    addr: "10.0.0.5"
    sensors:
      temp:
        type: gauge
        key: "t1"
`)
	out := r.ConvertAddrsToIds(map[string]map[string]interface{}{
		"10.0.0.5": {"t1": 22.0},
	})
	if out["n1"]["temp"] != 22.0 {
		t.Fatalf("got %+v", out)
	}
}
