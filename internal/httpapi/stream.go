package httpapi

import (
	"fmt"
	"net/http"

	"sensorhub.dev/hub/internal/realtime"
)

// handleEventsStream implements the /events channel of spec.md section
// 6.2: an init_response carrying the full by-node snapshot, then an
// update_response per dispatch.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	writeSSE(w, encodeFrame("init_response", map[string]interface{}{
		"data": s.reg.GetMetricsDictByNode(false),
	}))
	flusher.Flush()

	ch, leave := s.hub.Events.Join(realtime.GlobalRoom, false)
	defer leave()
	streamChannel(w, r, flusher, ch)
}

// handleLogsStream implements the /logs channel: on connect the buffered
// recent lines are replayed as individual log_response frames (no
// hist_response batch is sent), then one log_response per subsequent line.
func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	ch, leave := s.hub.Logs.Join(realtime.GlobalRoom, true)
	defer leave()
	streamChannel(w, r, flusher, ch)
}

// handleMetricsStream implements the /metrics channel's server->client
// direction for one gateway room (?room=gw1): status_response and
// config_response on connect, then actuator_response/actuator_addr_response
// as they're dispatched. The client->server direction (sensor_response,
// sensor_addr_response) is served by PUT /api/metrics/{node_id} instead,
// since both express the same "push a value into the registry" operation.
func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "missing room query parameter", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	writeSSE(w, encodeFrame("status_response", map[string]interface{}{"connected": true}))
	writeSSE(w, encodeFrame("config_response", map[string]interface{}{
		room: s.reg.GetConfigOfGw(room),
	}))
	flusher.Flush()

	ch, leave := s.hub.Metrics.Join(room, false)
	defer leave()
	streamChannel(w, r, flusher, ch)
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func streamChannel(w http.ResponseWriter, r *http.Request, flusher http.Flusher, ch <-chan []byte) {
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, payload)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, payload []byte) {
	event, data, ok := decodeFrame(payload)
	if !ok {
		fmt.Fprintf(w, "data: %s\n\n", payload)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
