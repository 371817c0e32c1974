package config

import (
	"fmt"

	"sensorhub.dev/hub/internal/sensor"
)

// ResolvedSensor is one flattened sensor/actuator descriptor, with node- and
// gateway-level defaults (ttl, export) already applied, ready for the
// registry to install.
type ResolvedSensor struct {
	Gateway    string
	NodeID     string
	IsTemplate bool
	SensorID   string
	Config     sensor.Config
}

// Resolve flattens the document into one ResolvedSensor per declared
// sensor/actuator, applying node-level ttl/export defaults onto sensors that
// don't override them, per spec.md section 6.3.
func (d *Document) Resolve() ([]ResolvedSensor, error) {
	var out []ResolvedSensor
	for _, gw := range d.Gateways {
		for _, node := range gw.Nodes {
			for sensorID, body := range node.Sensors {
				rs, err := resolveOne(gw.Name, node, sensorID, body, sensor.RoleSensor)
				if err != nil {
					return nil, err
				}
				out = append(out, rs)
			}
			for sensorID, body := range node.Actuators {
				rs, err := resolveOne(gw.Name, node, sensorID, body, sensor.RoleActuator)
				if err != nil {
					return nil, err
				}
				out = append(out, rs)
			}
		}
	}
	return out, nil
}

func resolveOne(gateway string, node NodeDoc, sensorID string, body SensorBody, role sensor.Role) (ResolvedSensor, error) {
	kind, err := parseKind(body.Type)
	if err != nil {
		return ResolvedSensor{}, fmt.Errorf("config: gateway %q node %q sensor %q: %w", gateway, node.ID, sensorID, err)
	}

	cfg := sensor.Config{
		Kind: kind,
		Role: role,
		Default: sensor.DefaultConfig{
			Value:            body.Default.Value,
			DefaultReturnTTL: body.Default.DefaultReturnTTL,
		},
		TTL:      body.TTL,
		Group:    body.Group,
		Desc:     body.Desc,
		NodeAddr: node.Addr,
		Key:      body.Key,
	}
	if cfg.TTL == nil {
		cfg.TTL = node.TTL
	}

	cfg.Debounce = sensor.Debounce{
		Changed: body.Debounce.Changed,
		Time:    body.Debounce.Time,
		Hits:    body.Debounce.Hits,
		Dataset: body.Debounce.Dataset,
	}
	if body.Debounce.HasValue {
		cfg.Debounce.SetDropValue(body.Debounce.Value)
	}

	cfg.Eval = sensor.EvalConfig{
		Code:        body.Eval.Code,
		SkipExpired: body.Eval.SkipExpired,
	}
	if body.Eval.HasBreak {
		cfg.Eval.SetBreakValue(body.Eval.BreakValue)
	}
	if len(body.Eval.Require) > 0 {
		cfg.Eval.Require = make(map[string]sensor.RequireRef, len(body.Eval.Require))
		for name, ref := range body.Eval.Require {
			rr, err := parseRequireRef(ref)
			if err != nil {
				return ResolvedSensor{}, fmt.Errorf("config: gateway %q node %q sensor %q eval.require %q: %w", gateway, node.ID, sensorID, name, err)
			}
			cfg.Eval.Require[name] = rr
		}
	}

	export := body.Export
	if export.Prefix == "" && !export.Hidden && len(export.Labels) == 0 && node.Export != nil {
		export = *node.Export
	}
	cfg.Export = sensor.ExportConfig{Hidden: export.Hidden, Prefix: export.Prefix, Labels: export.Labels}

	for spec, value := range body.Cron {
		cfg.Cron = append(cfg.Cron, sensor.CronEntry{Spec: spec, Value: value})
	}

	return ResolvedSensor{
		Gateway:    gateway,
		NodeID:     node.ID,
		IsTemplate: node.IsTemplate,
		SensorID:   sensorID,
		Config:     cfg,
	}, nil
}

func parseKind(t string) (sensor.Kind, error) {
	switch t {
	case "", "gauge":
		return sensor.Gauge, nil
	case "counter":
		return sensor.Counter, nil
	case "binary":
		return sensor.Binary, nil
	case "message":
		return sensor.Message, nil
	default:
		return "", fmt.Errorf("unknown sensor type %q", t)
	}
}

func parseRequireRef(ref []string) (sensor.RequireRef, error) {
	switch len(ref) {
	case 2:
		return sensor.RequireRef{SensorID: ref[0], Metric: ref[1]}, nil
	case 3:
		return sensor.RequireRef{Node: ref[0], SensorID: ref[1], Metric: ref[2]}, nil
	default:
		return sensor.RequireRef{}, fmt.Errorf("require reference must have 2 or 3 elements, got %d", len(ref))
	}
}
