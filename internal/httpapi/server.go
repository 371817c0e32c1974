// Package httpapi implements the net/http + gorilla/mux ingress of
// spec.md section 6.1, translating wire requests directly into
// Registry.SetNodeValues / read-view calls and JSON-encoding the result.
// Argument parsing is deliberately thin: the explicitly out-of-scope "HTTP
// request router and its argument parsing" of spec.md section 1.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"sensorhub.dev/hub/internal/config"
	"sensorhub.dev/hub/internal/realtime"
	"sensorhub.dev/hub/internal/registry"
)

// Server wires the registry and realtime hub to the HTTP surface.
type Server struct {
	reg    *registry.Registry
	loader *config.Loader
	hub    *realtime.Hub
	logger *slog.Logger
}

// NewServer constructs a Server. loader may be nil if /api/state/reload is
// never expected to be called (e.g. in tests).
func NewServer(reg *registry.Registry, loader *config.Loader, hub *realtime.Hub) *Server {
	return &Server{reg: reg, loader: loader, hub: hub, logger: slog.Default()}
}

// SetLogger overrides the default logger.
func (s *Server) SetLogger(l *slog.Logger) { s.logger = l }

// Router builds the gorilla/mux router for every route in spec.md
// section 6.1, plus the SSE transports for section 6.2.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/metrics/inc/{node_id}", s.handlePutMetrics(true)).Methods(http.MethodPut)
	r.HandleFunc("/api/metrics/{node_id}/{sensor_id}", s.handleGetSensorMetric).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/{node_id}", s.handlePutMetrics(false)).Methods(http.MethodPut)
	r.HandleFunc("/api/metrics/{node_id}", s.handleGetNodeMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/by_gw", s.handleMetricsByGw).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/by_node", s.handleMetricsByNode).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/by_sensor", s.handleMetricsBySensor).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics", s.handleMetricsByNode).Methods(http.MethodGet)

	r.HandleFunc("/api/state/default", s.handleStateDefault).Methods(http.MethodPut)
	r.HandleFunc("/api/state/reset", s.handleStateReset).Methods(http.MethodPut)
	r.HandleFunc("/api/state/reload", s.handleStateReload).Methods(http.MethodPut)
	r.HandleFunc("/api/state/dump", s.handleStateDump).Methods(http.MethodGet)

	r.HandleFunc("/metrics", s.handleMetricsStream).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEventsStream).Methods(http.MethodGet)
	r.HandleFunc("/logs", s.handleLogsStream).Methods(http.MethodGet)

	return r
}

func (s *Server) handlePutMetrics(increment bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodeID := mux.Vars(r)["node_id"]
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form body", http.StatusBadRequest)
			return
		}

		writes := make([]registry.SensorWrite, 0, len(r.PostForm))
		for sensorID, values := range r.PostForm {
			if len(values) == 0 {
				continue
			}
			writes = append(writes, registry.SensorWrite{SensorID: sensorID, Value: values[0]})
		}

		diff, err := s.reg.SetNodeValues(nodeID, writes, increment)
		if err != nil {
			s.writeSetError(w, nodeID, err)
			return
		}
		writeJSON(w, http.StatusOK, diff)
	}
}

func (s *Server) writeSetError(w http.ResponseWriter, nodeID string, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.logger.Error("httpapi: set failed", "node", nodeID, "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) handleGetNodeMetrics(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["node_id"]
	out := s.reg.GetMetricsOfNode(nodeID, false)
	if len(out) == 0 {
		http.Error(w, "unknown node", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSensorMetric(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, ok := s.reg.GetMetricOfSensor(vars["node_id"], vars["sensor_id"])
	if !ok {
		http.Error(w, "unknown sensor", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMetricsByGw(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.GetMetricsDictByGw(false))
}

func (s *Server) handleMetricsByNode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.GetMetricsDictByNode(false))
}

func (s *Server) handleMetricsBySensor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.GetMetricsDictBySensor(false))
}

func (s *Server) handleStateDefault(w http.ResponseWriter, r *http.Request) {
	s.reg.DefaultValues()
	diff := s.reg.Dispatch()
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleStateReset(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.ResetValues(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	diff := s.reg.Dispatch()
	writeJSON(w, http.StatusOK, diff)
}

// handleStateReload implements the atomic default + purge + load cycle:
// every sensor returns to its default, the registry is rebuilt from the
// config file on disk, and a reload_response is emitted on /events in
// addition to the usual update_response the rebuild's dispatch produces.
func (s *Server) handleStateReload(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		http.Error(w, "reload not configured", http.StatusServiceUnavailable)
		return
	}
	doc, err := s.loader.Load()
	if err != nil {
		s.logger.Error("httpapi: reload failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.reg.DefaultValues()
	if err := s.reg.LoadConfig(doc); err != nil {
		s.logger.Error("httpapi: reload config rejected", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	diff := s.reg.Dispatch()

	if s.hub != nil {
		s.hub.Events.Publish(realtime.GlobalRoom, encodeFrame("reload_response", diff))
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleStateDump(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.GetSensorsDumpDict())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
