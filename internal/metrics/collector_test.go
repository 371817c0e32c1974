package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"sensorhub.dev/hub/internal/registry"
	"sensorhub.dev/hub/internal/sensor"
)

type fakeSource struct {
	dump map[string]map[string]registry.SensorDump
}

func (f *fakeSource) GetSensorsDumpDict() map[string]map[string]registry.SensorDump {
	return f.dump
}

func TestCollect_EmitsVisibleGauge(t *testing.T) {
	src := &fakeSource{dump: map[string]map[string]registry.SensorDump{
		"n1": {"temp": registry.SensorDump{
			Gateway: "gw1", NodeID: "n1", SensorID: "temp", Kind: string(sensor.Gauge), Value: 21.5,
		}},
	}}
	c := NewCollector(src)
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 1 {
		t.Fatalf("expected one metric family, got %d", len(families))
	}
	if !strings.HasPrefix(families[0].GetName(), "sensorhub_gauge") {
		t.Fatalf("got name %s", families[0].GetName())
	}
}

func TestCollect_HidesMessageSensorsByDefault(t *testing.T) {
	src := &fakeSource{dump: map[string]map[string]registry.SensorDump{
		"n1": {"log": registry.SensorDump{
			Gateway: "gw1", NodeID: "n1", SensorID: "log", Kind: string(sensor.Message), Value: "hello",
		}},
	}}
	c := NewCollector(src)
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 0 {
		t.Fatalf("expected message sensor to be hidden, got %+v", families)
	}
}

func TestCollect_HonorsExplicitHidden(t *testing.T) {
	src := &fakeSource{dump: map[string]map[string]registry.SensorDump{
		"n1": {"secret": registry.SensorDump{
			Gateway: "gw1", NodeID: "n1", SensorID: "secret", Kind: string(sensor.Gauge), Value: 1.0,
			Export: sensor.ExportConfig{Hidden: true},
		}},
	}}
	c := NewCollector(src)
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 0 {
		t.Fatalf("expected hidden sensor to be excluded, got %+v", families)
	}
}
