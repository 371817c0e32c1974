package httpapi

import "encoding/json"

// frame is the envelope every realtime.Namespace publishes under: event
// names the payload per spec.md section 6.2 (status_response,
// config_response, actuator_response, actuator_addr_response,
// init_response, update_response, log_response); data is the
// JSON encoding of the described object. SSE handlers split the two back
// apart into the "event:"/"data:" lines of the wire frame.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeFrame(event string, payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	out, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return nil
	}
	return out
}

func decodeFrame(raw []byte) (event string, data json.RawMessage, ok bool) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", nil, false
	}
	return f.Event, f.Data, true
}
