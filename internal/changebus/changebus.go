// Package changebus implements the snapshot/diff and fanout dispatch that
// turns accepted writes into realtime events and actuator commands
// (spec.md section 4.5).
package changebus

import (
	"log/slog"
	"reflect"
)

// Snapshot is a full by-node metric projection: node_id -> sensor_id ->
// metric -> value.
type Snapshot map[string]map[string]map[string]interface{}

// Diff is the sparse three-level object emitted on every state-changing
// operation: node_id -> sensor_id -> metric -> new_value, present only for
// sensors whose metric projection actually changed.
type Diff map[string]map[string]map[string]interface{}

// StateSource is the registry's read/mutate surface the bus needs. Every
// method is called only from within the registry's own locked span; the
// bus holds no lock of its own.
type StateSource interface {
	Snapshot() Snapshot
	SensorMeta(nodeID, sensorID string) (gateway, role, nodeAddr, addrKey string, ok bool)
}

// EventPublisher receives the full diff on every non-empty dispatch, for
// the /events realtime channel.
type EventPublisher interface {
	PublishEvent(diff Diff)
}

// ActuatorPublisher receives the per-gateway actuator fanout, addressed to
// the room named after the gateway.
type ActuatorPublisher interface {
	PublishActuator(gateway string, byID map[string]map[string]interface{}, byAddr map[string]map[string]interface{})
}

// AuditSink receives every non-empty diff for durable, write-only logging.
// It never feeds back into live state (spec.md's durability non-goal).
type AuditSink interface {
	Append(diff Diff)
}

// Bus holds the previous snapshot and drives Dispatch. Construct with New,
// then wire into the Registry via Registry.SetBus.
type Bus struct {
	src       StateSource
	events    EventPublisher
	actuators ActuatorPublisher
	audit     AuditSink
	logger    *slog.Logger
	prev      Snapshot
}

// New constructs a bus over src, publishing to events/actuators. audit may
// be nil.
func New(src StateSource, events EventPublisher, actuators ActuatorPublisher, audit AuditSink) *Bus {
	return &Bus{
		src:       src,
		events:    events,
		actuators: actuators,
		audit:     audit,
		logger:    slog.Default(),
		prev:      Snapshot{},
	}
}

// SetLogger overrides the default logger.
func (b *Bus) SetLogger(l *slog.Logger) { b.logger = l }

// Dispatch computes the diff against the previous snapshot, publishes the
// event and actuator streams, and advances prev. Returns (diff, false) with
// no side effects when the diff is empty. postExpiry is accepted for
// parity with spec.md's signature but TTL re-arming (the only thing it
// affects) happens in the registry before Dispatch is called, since it
// must be reflected in the very snapshot this call takes.
func (b *Bus) Dispatch(postExpiry bool) (Diff, bool) {
	curr := b.src.Snapshot()
	diff := computeDiff(Snapshot(b.prev), curr)
	if len(diff) == 0 {
		b.prev = curr
		return diff, false
	}

	actuatorByID := map[string]map[string]map[string]interface{}{}
	actuatorByAddr := map[string]map[string]map[string]interface{}{}

	for nodeID, sensors := range diff {
		for sensorID, metrics := range sensors {
			gateway, role, nodeAddr, addrKey, ok := b.src.SensorMeta(nodeID, sensorID)
			if !ok || role != "actuator" {
				continue
			}
			value := metrics["value"]

			if actuatorByID[gateway] == nil {
				actuatorByID[gateway] = map[string]map[string]interface{}{}
			}
			if actuatorByID[gateway][nodeID] == nil {
				actuatorByID[gateway][nodeID] = map[string]interface{}{}
			}
			actuatorByID[gateway][nodeID][sensorID] = value

			if nodeAddr != "" && addrKey != "" {
				if actuatorByAddr[gateway] == nil {
					actuatorByAddr[gateway] = map[string]map[string]interface{}{}
				}
				if actuatorByAddr[gateway][nodeAddr] == nil {
					actuatorByAddr[gateway][nodeAddr] = map[string]interface{}{}
				}
				actuatorByAddr[gateway][nodeAddr][addrKey] = value
			}
		}
	}

	if b.events != nil {
		b.events.PublishEvent(diff)
	}
	if b.audit != nil {
		b.audit.Append(diff)
	}
	if b.actuators != nil {
		gateways := map[string]bool{}
		for gw := range actuatorByID {
			gateways[gw] = true
		}
		for gw := range actuatorByAddr {
			gateways[gw] = true
		}
		for gw := range gateways {
			b.actuators.PublishActuator(gw, actuatorByID[gw], actuatorByAddr[gw])
		}
	}

	b.prev = curr
	return diff, true
}

func computeDiff(prev, curr Snapshot) Diff {
	diff := Diff{}
	for nodeID := range unionTopKeys(prev, curr) {
		prevNode, currNode := prev[nodeID], curr[nodeID]
		sensorsDiff := map[string]map[string]interface{}{}
		for sensorID := range unionMidKeys(prevNode, currNode) {
			prevMetrics, currMetrics := prevNode[sensorID], currNode[sensorID]
			if !reflect.DeepEqual(prevMetrics, currMetrics) {
				sensorsDiff[sensorID] = currMetrics
			}
		}
		if len(sensorsDiff) > 0 {
			diff[nodeID] = sensorsDiff
		}
	}
	return diff
}

func unionTopKeys(a, b Snapshot) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func unionMidKeys(a, b map[string]map[string]interface{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}
