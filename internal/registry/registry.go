// Package registry implements the sensor graph's single shared mutable
// structure: indices over live sensors, template instantiation, and the
// locked span that drives a write through coercion, derivation,
// propagation, and dispatch (spec.md sections 4.2 and 5).
package registry

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"sensorhub.dev/hub/internal/changebus"
	"sensorhub.dev/hub/internal/config"
	"sensorhub.dev/hub/internal/eval"
	"sensorhub.dev/hub/internal/scheduler"
	"sensorhub.dev/hub/internal/sensor"
)

// SensorWrite is one entry of a SetNodeValues call. Writes is an ordered
// slice, not a map, so callers control the deterministic processing order
// invariant of spec.md section 5.
type SensorWrite struct {
	SensorID string
	Value    interface{}
}

// Registry is the sensor graph's single owner. All exported methods that
// mutate state take the write lock for their entire span, matching the
// single-writer model of spec.md section 5: a write proceeds to full
// propagation and dispatch before returning.
type Registry struct {
	mu sync.RWMutex

	sensors    map[string]*sensor.Sensor   // "node\x00sensor" -> live sensor
	byGateway  map[string][]*sensor.Sensor // gateway -> its sensors, insertion order
	byAddr     map[string]*sensor.Sensor   // "addr\x00key" -> live sensor

	templateSensors   map[string]map[string]*sensor.Sensor // template_node_id -> sensor_id -> template
	templateParent    map[string]string                    // sensor_id -> template_node_id (first registered wins)
	instantiatedNodes map[string]bool                       // node_id -> already cloned from a template

	ttlHandles  map[string]scheduler.JobHandle   // sensor key -> armed TTL handle
	cronHandles map[string][]scheduler.JobHandle // sensor key -> its cron handles

	eng    *eval.Engine
	sched  *scheduler.Scheduler
	bus    *changebus.Bus
	logger *slog.Logger
	clock  func() float64
}

// New constructs an empty registry over the given scheduler. Call SetBus
// once the ChangeBus has been constructed with this registry as its
// StateSource, to complete the two-phase wiring the Registry/Bus mutual
// reference requires.
func New(sched *scheduler.Scheduler) *Registry {
	r := &Registry{
		sensors:           make(map[string]*sensor.Sensor),
		byGateway:         make(map[string][]*sensor.Sensor),
		byAddr:            make(map[string]*sensor.Sensor),
		templateSensors:   make(map[string]map[string]*sensor.Sensor),
		templateParent:    make(map[string]string),
		instantiatedNodes: make(map[string]bool),
		ttlHandles:        make(map[string]scheduler.JobHandle),
		cronHandles:       make(map[string][]scheduler.JobHandle),
		sched:             sched,
		logger:            slog.Default(),
		clock:             func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
	r.eng = eval.NewEngine(r, nil)
	return r
}

// SetEvalRunner sets the expression evaluator (ordinarily exprlang.Eval)
// used by every derivation.
func (r *Registry) SetEvalRunner(run sensor.EvalFunc) {
	r.eng = eval.NewEngine(r, run)
}

// SetBus attaches the ChangeBus this registry dispatches through.
func (r *Registry) SetBus(bus *changebus.Bus) { r.bus = bus }

// SetLogger overrides the default logger.
func (r *Registry) SetLogger(l *slog.Logger) { r.logger = l }

// SetClock overrides the wall-clock source (epoch seconds), for tests.
func (r *Registry) SetClock(clock func() float64) { r.clock = clock }

func key(nodeID, sensorID string) string { return nodeID + "\x00" + sensorID }

// Lookup implements eval.Graph. Callers must already hold the registry
// lock: it is only ever invoked from within a locked Registry method.
func (r *Registry) Lookup(nodeID, sensorID string) (*sensor.Sensor, bool) {
	s, ok := r.sensors[key(nodeID, sensorID)]
	return s, ok
}

// LoadConfig replaces the entire live graph with the one described by doc,
// cancelling every previously scheduled job first. Errors from the
// document parser or an invalid cron spec abort the load and leave the
// prior graph in place.
func (r *Registry) LoadConfig(doc *config.Document) error {
	resolved, err := doc.Resolve()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	for _, rs := range resolved {
		for _, entry := range rs.Config.Cron {
			if _, err := scheduler.ParseCron(entry.Spec); err != nil {
				return fmt.Errorf("%w: cron %q on %s/%s: %v", ErrInvalidCron, entry.Spec, rs.NodeID, rs.SensorID, err)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sensors {
		r.cancelJobs(s)
	}

	r.sensors = make(map[string]*sensor.Sensor)
	r.byGateway = make(map[string][]*sensor.Sensor)
	r.byAddr = make(map[string]*sensor.Sensor)
	r.templateSensors = make(map[string]map[string]*sensor.Sensor)
	r.templateParent = make(map[string]string)
	r.instantiatedNodes = make(map[string]bool)
	r.ttlHandles = make(map[string]scheduler.JobHandle)
	r.cronHandles = make(map[string][]scheduler.JobHandle)
	r.eng.Reset()

	for _, rs := range resolved {
		s := sensor.New(rs.Gateway, rs.NodeID, rs.SensorID, rs.Config)
		if rs.IsTemplate {
			if r.templateSensors[rs.NodeID] == nil {
				r.templateSensors[rs.NodeID] = make(map[string]*sensor.Sensor)
			}
			r.templateSensors[rs.NodeID][rs.SensorID] = s
			if _, exists := r.templateParent[rs.SensorID]; !exists {
				r.templateParent[rs.SensorID] = rs.NodeID
			}
			continue
		}
		if err := r.installConcrete(s); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) installConcrete(s *sensor.Sensor) error {
	r.sensors[s.Key()] = s
	r.byGateway[s.Gateway] = append(r.byGateway[s.Gateway], s)
	if ak := s.AddrKey(); ak != "" {
		r.byAddr[ak] = s
	}
	r.eng.Index(s)
	return r.registerCron(s)
}

func (r *Registry) registerCron(s *sensor.Sensor) error {
	for _, entry := range s.Config.Cron {
		entry := entry
		nodeID, sensorID := s.NodeID, s.SensorID
		handle, err := r.sched.AddCron(entry.Spec, func() { r.cronFire(nodeID, sensorID, entry.Value) })
		if err != nil {
			return fmt.Errorf("%w: cron %q on %s/%s: %v", ErrInvalidCron, entry.Spec, nodeID, sensorID, err)
		}
		s.CronJobIDs = append(s.CronJobIDs, handle.ID())
		r.cronHandles[s.Key()] = append(r.cronHandles[s.Key()], handle)
	}
	return nil
}

func (r *Registry) cancelJobs(s *sensor.Sensor) {
	if s.TTLJobID != "" {
		r.sched.Cancel(s.TTLJobID)
	}
	for _, id := range s.CronJobIDs {
		r.sched.Cancel(id)
	}
}

// SetNodeValues applies writes to nodeID's sensors in order, instantiating
// any template node on first touch, re-deriving dependents, and dispatching
// the resulting diff. An unknown (node, sensor) with no matching template
// aborts the whole call, per spec.md section 4.2.
func (r *Registry) SetNodeValues(nodeID string, writes []SensorWrite, increment bool) (changebus.Diff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range writes {
		s, ok := r.sensors[key(nodeID, w.SensorID)]
		if !ok {
			templateNodeID, ok2 := r.templateParent[w.SensorID]
			if !ok2 {
				return nil, fmt.Errorf("%w: node %q sensor %q", ErrNotFound, nodeID, w.SensorID)
			}
			if err := r.instantiateTemplate(templateNodeID, nodeID); err != nil {
				return nil, err
			}
			s, ok = r.sensors[key(nodeID, w.SensorID)]
			if !ok {
				return nil, fmt.Errorf("%w: node %q sensor %q", ErrNotFound, nodeID, w.SensorID)
			}
		}

		changed, err := s.Set(w.Value, true, increment, r.clock())
		if err != nil {
			r.logger.Warn("registry: rejected write", "node", nodeID, "sensor", w.SensorID, "error", err)
			continue
		}
		if changed {
			r.eng.Self(s, false)
			r.ArmOrDisarmTTL(s.NodeID, s.SensorID, false)
			r.eng.PropagateFrom(s, func(dep *sensor.Sensor) {
				r.ArmOrDisarmTTL(dep.NodeID, dep.SensorID, false)
			})
		}
	}

	r.eng.ResetUsedDatasets()
	diff, _ := r.bus.Dispatch(false)
	return diff, nil
}

func (r *Registry) instantiateTemplate(templateNodeID, nodeID string) error {
	if r.instantiatedNodes[nodeID] {
		return nil
	}
	templates, ok := r.templateSensors[templateNodeID]
	if !ok {
		return fmt.Errorf("%w: template node %q", ErrNotFound, templateNodeID)
	}
	for _, tmpl := range templates {
		clone := tmpl.Clone(nodeID)
		if err := r.installConcrete(clone); err != nil {
			return err
		}
	}
	r.instantiatedNodes[nodeID] = true
	return nil
}

func (r *Registry) cronFire(nodeID, sensorID string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sensors[key(nodeID, sensorID)]
	if !ok {
		return
	}
	v := value
	if v == nil {
		v = s.Value
	}
	changed, err := s.Set(v, true, false, r.clock())
	if err != nil {
		r.logger.Warn("registry: cron write rejected", "node", nodeID, "sensor", sensorID, "error", err)
		return
	}
	if changed {
		r.eng.Self(s, false)
		r.ArmOrDisarmTTL(s.NodeID, s.SensorID, false)
		r.eng.PropagateFrom(s, func(dep *sensor.Sensor) {
			r.ArmOrDisarmTTL(dep.NodeID, dep.SensorID, false)
		})
	}
	r.eng.ResetUsedDatasets()
	r.bus.Dispatch(false)
}

func (r *Registry) ttlExpire(nodeID, sensorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sensors[key(nodeID, sensorID)]
	if !ok {
		return
	}
	s.Reset()
	delete(r.ttlHandles, s.Key())
	r.ArmOrDisarmTTL(nodeID, sensorID, true)

	if !s.Config.Eval.SkipExpired && s.Value != nil {
		r.eng.Self(s, false)
		r.eng.PropagateFrom(s, func(dep *sensor.Sensor) {
			r.ArmOrDisarmTTL(dep.NodeID, dep.SensorID, false)
		})
	}
	r.eng.ResetUsedDatasets()
	r.bus.Dispatch(true)
}

// ArmOrDisarmTTL re-evaluates whether nodeID/sensorID's TTL expiry job
// should be armed, disarmed, or left alone, based on its current value
// against its configured default. Called directly from the registry's own
// write paths (SetNodeValues, cronFire, ttlExpire) before Dispatch, so the
// snapshot that call's Dispatch takes already reflects the new arm state.
// postExpiry is true only when called for the sensor that just expired.
func (r *Registry) ArmOrDisarmTTL(nodeID, sensorID string, postExpiry bool) {
	s, ok := r.sensors[key(nodeID, sensorID)]
	if !ok || s.Config.TTL == nil {
		return
	}

	notDefault := !sensor.Equal(s.Value, s.Config.Default.Value)
	arm := s.HitTimestamp > 0 && (notDefault || s.Config.Default.DefaultReturnTTL) && !postExpiry
	if arm {
		runAt := secondsToTime(s.HitTimestamp + *s.Config.TTL)
		jobID := fmt.Sprintf("exp-%s-%s", nodeID, sensorID)
		handle := r.sched.AddDate(runAt, jobID, func() { r.ttlExpire(nodeID, sensorID) }, true)
		s.TTLJobID = handle.ID()
		r.ttlHandles[s.Key()] = handle
		return
	}

	disarm := !notDefault && !s.Config.Default.DefaultReturnTTL
	if disarm {
		if h, ok := r.ttlHandles[s.Key()]; ok {
			r.sched.Cancel(h.ID())
			delete(r.ttlHandles, s.Key())
		}
		s.TTLJobID = ""
	}
}

// SensorMeta implements changebus.StateSource.
func (r *Registry) SensorMeta(nodeID, sensorID string) (gateway string, role string, nodeAddr string, addrKey string, ok bool) {
	s, ok := r.sensors[key(nodeID, sensorID)]
	if !ok {
		return "", "", "", "", false
	}
	return s.Gateway, string(s.Config.Role), s.Config.NodeAddr, s.Config.Key, true
}

// Snapshot implements changebus.StateSource: the by-node metric projection
// over every live sensor.
func (r *Registry) Snapshot() changebus.Snapshot {
	out := changebus.Snapshot{}
	for _, s := range r.sensors {
		if out[s.NodeID] == nil {
			out[s.NodeID] = map[string]map[string]interface{}{}
		}
		out[s.NodeID][s.SensorID] = r.projection(s)
	}
	return out
}

func (r *Registry) projection(s *sensor.Sensor) map[string]interface{} {
	m := map[string]interface{}{
		"value":            s.Value,
		"hits_total":       s.HitsTotal,
		"hit_timestamp":    s.HitTimestamp,
		"duration_seconds": s.DurationSeconds,
	}
	if h, ok := r.ttlHandles[s.Key()]; ok {
		m["exp_timestamp"] = floatSeconds(h.NextRunTime())
	} else {
		m["exp_timestamp"] = nil
	}
	if hs, ok := r.cronHandles[s.Key()]; ok && len(hs) > 0 {
		next := hs[0].NextRunTime()
		for _, h := range hs[1:] {
			if t := h.NextRunTime(); t.Before(next) {
				next = t
			}
		}
		m["cron_timestamp"] = floatSeconds(next)
	} else {
		m["cron_timestamp"] = nil
	}
	return m
}

// Dispatch forces a ChangeBus dispatch and returns the resulting diff. Used
// by the HTTP layer after bulk operations (default/reset/reload) that don't
// themselves go through SetNodeValues.
func (r *Registry) Dispatch() changebus.Diff {
	r.mu.Lock()
	defer r.mu.Unlock()
	diff, _ := r.bus.Dispatch(false)
	return diff
}

// DefaultValues performs a bulk soft reset: every sensor returns to its
// default value, per spec.md section 4.2.
func (r *Registry) DefaultValues() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sensors {
		if h, ok := r.ttlHandles[s.Key()]; ok {
			r.sched.Cancel(h.ID())
		}
		s.Reset()
		delete(r.ttlHandles, s.Key())
	}
}

// ResetValues performs a bulk hard reset: every sensor is reconstructed
// from its static config, zeroing hits_total/timestamps/prev_value, and its
// cron jobs are re-registered (HardReset clears the sensor's own bookkeeping
// of them, per the open question noted in spec.md section 9).
func (r *Registry) ResetValues() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sensors {
		r.cancelJobs(s)
		delete(r.ttlHandles, s.Key())
		delete(r.cronHandles, s.Key())
		s.HardReset()
		if err := r.registerCron(s); err != nil {
			return err
		}
	}
	return nil
}

// ConvertAddrsToIds translates wire-level (node_addr, key) writes into
// (node_id, sensor_id) writes using the secondary index. Unmatched entries
// are logged and dropped, per ErrInvalidAddr.
func (r *Registry) ConvertAddrsToIds(byAddr map[string]map[string]interface{}) map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := map[string]map[string]interface{}{}
	for addr, keys := range byAddr {
		for k, value := range keys {
			s, ok := r.byAddr[addr+"\x00"+k]
			if !ok {
				r.logger.Warn("registry: unregistered addr/key pair", "addr", addr, "key", k)
				continue
			}
			if out[s.NodeID] == nil {
				out[s.NodeID] = map[string]interface{}{}
			}
			out[s.NodeID][s.SensorID] = value
		}
	}
	return out
}

// GetMetricsOfNode returns the metric projection of every sensor on one
// node.
func (r *Registry) GetMetricsOfNode(nodeID string, skipNone bool) map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]map[string]interface{}{}
	for _, s := range r.sensors {
		if s.NodeID != nodeID {
			continue
		}
		if skipNone && s.Value == nil {
			continue
		}
		out[s.SensorID] = r.projection(s)
	}
	return out
}

// GetMetricOfSensor returns the metric projection of exactly one sensor.
func (r *Registry) GetMetricOfSensor(nodeID, sensorID string) (map[string]interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sensors[key(nodeID, sensorID)]
	if !ok {
		return nil, false
	}
	return r.projection(s), true
}

// GetMetricsDictByGw groups the metric projection gateway -> node -> sensor.
func (r *Registry) GetMetricsDictByGw(skipNone bool) map[string]map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]map[string]map[string]interface{}{}
	for _, s := range r.sensors {
		if skipNone && s.Value == nil {
			continue
		}
		if out[s.Gateway] == nil {
			out[s.Gateway] = map[string]map[string]interface{}{}
		}
		nodeMap := out[s.Gateway]
		if nodeMap[s.NodeID] == nil {
			nodeMap[s.NodeID] = map[string]interface{}{}
		}
		nodeMap[s.NodeID][s.SensorID] = r.projection(s)
	}
	return out
}

// GetMetricsDictByNode groups the metric projection node -> sensor. This is
// also what the ChangeBus snapshots.
func (r *Registry) GetMetricsDictByNode(skipNone bool) map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]map[string]interface{}{}
	for _, s := range r.sensors {
		if skipNone && s.Value == nil {
			continue
		}
		if out[s.NodeID] == nil {
			out[s.NodeID] = map[string]interface{}{}
		}
		out[s.NodeID][s.SensorID] = r.projection(s)
	}
	return out
}

// GetMetricsDictBySensor groups the metric projection sensor_id -> node_id.
func (r *Registry) GetMetricsDictBySensor(skipNone bool) map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]map[string]interface{}{}
	for _, s := range r.sensors {
		if skipNone && s.Value == nil {
			continue
		}
		if out[s.SensorID] == nil {
			out[s.SensorID] = map[string]interface{}{}
		}
		out[s.SensorID][s.NodeID] = r.projection(s)
	}
	return out
}

// SensorDump is the full per-sensor state exposed by GetSensorsDumpDict.
type SensorDump struct {
	Gateway         string      `json:"gateway"`
	NodeID          string      `json:"node_id"`
	SensorID        string      `json:"sensor_id"`
	Kind            string      `json:"type"`
	Role            string      `json:"role"`
	Value           interface{} `json:"value"`
	PrevValue       interface{} `json:"prev_value"`
	HitsTotal       int64       `json:"hits_total"`
	HitTimestamp    float64     `json:"hit_timestamp"`
	DurationSeconds float64     `json:"duration_seconds"`
	DatasetReady    bool        `json:"dataset_ready"`
	DatasetUsed     bool        `json:"dataset_used"`
	Hold            bool        `json:"hold"`
	ExpTimestamp    interface{} `json:"exp_timestamp"`
	CronTimestamp   interface{} `json:"cron_timestamp"`
	Export          sensor.ExportConfig `json:"-"`
}

// GetSensorsDumpDict returns the full state of every live sensor.
func (r *Registry) GetSensorsDumpDict() map[string]map[string]SensorDump {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]map[string]SensorDump{}
	for _, s := range r.sensors {
		if out[s.NodeID] == nil {
			out[s.NodeID] = map[string]SensorDump{}
		}
		proj := r.projection(s)
		out[s.NodeID][s.SensorID] = SensorDump{
			Gateway:         s.Gateway,
			NodeID:          s.NodeID,
			SensorID:        s.SensorID,
			Kind:            string(s.Config.Kind),
			Role:            string(s.Config.Role),
			Value:           s.Value,
			PrevValue:       s.PrevValue,
			HitsTotal:       s.HitsTotal,
			HitTimestamp:    s.HitTimestamp,
			DurationSeconds: s.DurationSeconds,
			DatasetReady:    s.DatasetReady,
			DatasetUsed:     s.DatasetUsed,
			Hold:            s.Hold,
			ExpTimestamp:    proj["exp_timestamp"],
			CronTimestamp:   proj["cron_timestamp"],
			Export:          s.Config.Export,
		}
	}
	return out
}

// GetConfigOfGw returns the static config of every sensor on one gateway.
func (r *Registry) GetConfigOfGw(gw string) map[string]sensor.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]sensor.Config{}
	for _, s := range r.byGateway[gw] {
		out[s.Key()] = s.Config
	}
	return out
}

func secondsToTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}

func floatSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
