package httpapi

import (
	"fmt"

	"sensorhub.dev/hub/internal/changebus"
	"sensorhub.dev/hub/internal/realtime"
)

// EventBridge implements changebus.EventPublisher, fanning every non-empty
// diff out to the /events namespace as update_response and, reformatted as
// one line per changed sensor, to the /logs namespace as log_response.
type EventBridge struct {
	Hub *realtime.Hub
}

func (b *EventBridge) PublishEvent(diff changebus.Diff) {
	b.Hub.Events.Publish(realtime.GlobalRoom, encodeFrame("update_response", diff))
	for nodeID, sensors := range diff {
		for sensorID, metrics := range sensors {
			line := fmt.Sprintf("%s.%s -> %v", nodeID, sensorID, metrics["value"])
			b.Hub.Logs.Publish(realtime.GlobalRoom, encodeFrame("log_response", line))
		}
	}
}

// ActuatorBridge implements changebus.ActuatorPublisher, fanning actuator
// commands to the gateway room matching their origin so only clients joined
// to that gateway's room see them.
type ActuatorBridge struct {
	Hub *realtime.Hub
}

func (b *ActuatorBridge) PublishActuator(gateway string, byID, byAddr map[string]map[string]interface{}) {
	if len(byID) > 0 {
		b.Hub.Metrics.Publish(gateway, encodeFrame("actuator_response", map[string]interface{}{gateway: byID}))
	}
	if len(byAddr) > 0 {
		b.Hub.Metrics.Publish(gateway, encodeFrame("actuator_addr_response", map[string]interface{}{gateway: byAddr}))
	}
}
