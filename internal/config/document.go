// Package config parses the gateway/node/sensor YAML document (spec.md
// section 6.3) into a flat list of sensor descriptors the registry can
// install, without the registry ever touching YAML itself.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the parsed top-level mapping: gateway name -> node_id ->
// sensor/actuator config.
type Document struct {
	Gateways []GatewayDoc
}

// GatewayDoc is one top-level key of the document.
type GatewayDoc struct {
	Name  string
	Nodes []NodeDoc
}

// NodeDoc is one node entry. IsTemplate is true when the YAML key was an
// integer scalar rather than a string, per spec.md's "numeric config key
// indicates a template" rule.
type NodeDoc struct {
	ID         string
	IsTemplate bool
	Addr       string
	TTL        *float64
	Export     *ExportBody
	Sensors    map[string]SensorBody
	Actuators  map[string]SensorBody
}

// ExportBody mirrors the `export` config block, at node or sensor level.
type ExportBody struct {
	Hidden bool              `yaml:"hidden"`
	Prefix string            `yaml:"prefix"`
	Labels map[string]string `yaml:"labels"`
}

// DebounceBody mirrors the `debounce` config block. HasValue distinguishes
// "no drop-value configured" from "drop on an explicit null".
type DebounceBody struct {
	Changed  bool
	Time     float64
	Hits     int
	Dataset  bool
	Value    interface{}
	HasValue bool
}

func (d *DebounceBody) UnmarshalYAML(value *yaml.Node) error {
	var alias struct {
		Changed bool        `yaml:"changed"`
		Time    float64     `yaml:"time"`
		Hits    int         `yaml:"hits"`
		Dataset bool        `yaml:"dataset"`
		Value   interface{} `yaml:"value"`
	}
	if err := value.Decode(&alias); err != nil {
		return err
	}
	d.Changed, d.Time, d.Hits, d.Dataset, d.Value = alias.Changed, alias.Time, alias.Hits, alias.Dataset, alias.Value
	d.HasValue = hasKey(value, "value")
	return nil
}

// EvalBody mirrors the `eval` config block. HasBreak distinguishes "no
// break_value configured" from "break on an explicit null".
type EvalBody struct {
	Code        string
	Require     map[string][]string
	SkipExpired bool
	BreakValue  interface{}
	HasBreak    bool
}

func (e *EvalBody) UnmarshalYAML(value *yaml.Node) error {
	var alias struct {
		Code        string               `yaml:"code"`
		Require     map[string][]string  `yaml:"require"`
		SkipExpired bool                 `yaml:"skip_expired"`
		BreakValue  interface{}          `yaml:"break_value"`
	}
	if err := value.Decode(&alias); err != nil {
		return err
	}
	e.Code, e.Require, e.SkipExpired, e.BreakValue = alias.Code, alias.Require, alias.SkipExpired, alias.BreakValue
	e.HasBreak = hasKey(value, "break_value")
	return nil
}

// DefaultBody mirrors the `default` config block.
type DefaultBody struct {
	Value            interface{} `yaml:"value"`
	DefaultReturnTTL bool        `yaml:"default_return_ttl"`
}

// SensorBody is one sensor or actuator config entry.
type SensorBody struct {
	Type     string                 `yaml:"type"`
	Default  DefaultBody            `yaml:"default"`
	Debounce DebounceBody           `yaml:"debounce"`
	TTL      *float64               `yaml:"ttl"`
	Export   ExportBody             `yaml:"export"`
	Eval     EvalBody               `yaml:"eval"`
	Cron     map[string]interface{} `yaml:"cron"`
	Group    string                 `yaml:"group"`
	Desc     string                 `yaml:"desc"`
	Key      string                 `yaml:"key"`
}

type nodeDocBody struct {
	Addr      string                `yaml:"addr"`
	TTL       *float64              `yaml:"ttl"`
	Export    *ExportBody           `yaml:"export"`
	Sensors   map[string]SensorBody `yaml:"sensors"`
	Actuators map[string]SensorBody `yaml:"actuators"`
}

// UnmarshalYAML walks the document manually (rather than via a typed map)
// so node-id keys can be inspected for their original YAML scalar tag.
func (d *Document) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("config: expected a mapping at the document root")
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		gwKey, gwVal := value.Content[i], value.Content[i+1]
		gw := GatewayDoc{Name: gwKey.Value}

		if gwVal.Kind != yaml.MappingNode {
			return fmt.Errorf("config: gateway %q must map node ids to node config", gw.Name)
		}
		for j := 0; j+1 < len(gwVal.Content); j += 2 {
			nodeKey, nodeVal := gwVal.Content[j], gwVal.Content[j+1]

			var body nodeDocBody
			if err := nodeVal.Decode(&body); err != nil {
				return fmt.Errorf("config: gateway %q node %q: %w", gw.Name, nodeKey.Value, err)
			}

			gw.Nodes = append(gw.Nodes, NodeDoc{
				ID:         nodeKey.Value,
				IsTemplate: nodeKey.ShortTag() == "!!int",
				Addr:       body.Addr,
				TTL:        body.TTL,
				Export:     body.Export,
				Sensors:    body.Sensors,
				Actuators:  body.Actuators,
			})
		}
		d.Gateways = append(d.Gateways, gw)
	}
	return nil
}

// hasKey reports whether a mapping node has an explicit key, regardless of
// the associated value (including explicit nulls).
func hasKey(mapping *yaml.Node, key string) bool {
	if mapping.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return true
		}
	}
	return false
}

// Parse decodes a YAML document of the shape described in spec.md section
// 6.3.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &doc, nil
}
