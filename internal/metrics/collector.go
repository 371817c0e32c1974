// Package metrics exposes every non-hidden sensor to Prometheus, honoring
// each sensor's export.hidden/prefix/labels configuration. MESSAGE sensors
// are hidden by default (spec.md section 3: they hold strings, not a
// meaningful gauge value), grounded on 99souls-ariadne's dynamic
// prometheus.Collector pattern (engine/telemetry/metrics/prometheus.go)
// rather than a fixed GaugeVec: sensor/node names are arbitrary and change
// at runtime as templates instantiate, so the collector builds constant
// metrics fresh on every scrape instead of pre-registering label
// combinations.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"sensorhub.dev/hub/internal/registry"
	"sensorhub.dev/hub/internal/sensor"
)

// Source is the read view the collector needs from the registry.
type Source interface {
	GetSensorsDumpDict() map[string]map[string]registry.SensorDump
}

// Collector implements prometheus.Collector over a live registry snapshot.
type Collector struct {
	src Source
}

// NewCollector constructs a collector over src.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Describe intentionally sends no descriptors: this collector is unchecked
// (dynamic metric set), matching prometheus's documented pattern for
// collectors whose series vary at runtime.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for nodeID, sensors := range c.src.GetSensorsDumpDict() {
		for sensorID, dump := range sensors {
			if dump.Kind == string(sensor.Message) && !exportExplicitlyShown(dump.Export) {
				continue
			}
			if dump.Export.Hidden {
				continue
			}
			value, ok := asFloat(dump.Value)
			if !ok {
				continue
			}

			name := metricName(dump.Export.Prefix, dump.Kind)
			labelNames := []string{"gateway", "node_id", "sensor_id"}
			labelValues := []string{dump.Gateway, nodeID, sensorID}
			for k, v := range dump.Export.Labels {
				labelNames = append(labelNames, sanitizeLabel(k))
				labelValues = append(labelValues, v)
			}

			desc := prometheus.NewDesc(name, "sensorhub sensor value, by gateway/node/sensor", labelNames, nil)
			metric, err := prometheus.NewConstMetric(desc, valueType(dump.Kind), value, labelValues...)
			if err != nil {
				continue
			}
			ch <- metric
		}
	}
}

// exportExplicitlyShown lets a MESSAGE sensor opt back into the scrape by
// naming a non-empty prefix or label set.
func exportExplicitlyShown(e sensor.ExportConfig) bool {
	return e.Prefix != "" || len(e.Labels) > 0
}

func valueType(kind string) prometheus.ValueType {
	if kind == string(sensor.Counter) {
		return prometheus.CounterValue
	}
	return prometheus.GaugeValue
}

func metricName(prefix, kind string) string {
	base := "sensorhub"
	if prefix != "" {
		base = sanitizeLabel(prefix)
	}
	return base + "_" + kind
}

func sanitizeLabel(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
