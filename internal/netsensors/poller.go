// Package netsensors periodically probes internet reachability and writes
// the result into the registry as an ordinary gateway named "network",
// through the same SetNodeValues path every other gateway uses. The dial
// loop is adapted from the teacher's internal/security.TCPSensor, which
// probed the same well-known resolvers to decide online/offline status
// ahead of its SSH reconnect policy; here it becomes a plain boolean
// sensor with no policy attached.
package netsensors

import (
	"context"
	"log/slog"
	"net"
	"time"

	"sensorhub.dev/hub/internal/registry"
	"sensorhub.dev/hub/internal/scheduler"
)

// Gateway is the name the sensor graph's "network" gateway is registered
// under. The config must declare a node (commonly "internet") with a
// boolean sensor named "online" for the poller's writes to land anywhere.
const Gateway = "network"

// target is a well-known, highly available host:port pair used only to
// test reachability — never contacted for its own sake.
type target struct {
	host, port, network string
}

var defaultTargets = []target{
	{"1.1.1.1", "443", "tcp4"},
	{"1.0.0.1", "443", "tcp4"},
	{"8.8.8.8", "443", "tcp4"},
	{"8.8.4.4", "443", "tcp4"},
	{"2606:4700:4700::1111", "443", "tcp6"},
	{"2001:4860:4860::8888", "443", "tcp6"},
}

// Poller periodically dials a handful of reliable hosts and records
// whether any of them answered.
type Poller struct {
	reg     *registry.Registry
	sched   *scheduler.Scheduler
	nodeID  string
	targets []target
	timeout time.Duration
	logger  *slog.Logger
}

// NewPoller constructs a poller that will write to nodeID (typically
// "internet") within the "network" gateway.
func NewPoller(reg *registry.Registry, sched *scheduler.Scheduler, nodeID string) *Poller {
	return &Poller{
		reg:     reg,
		sched:   sched,
		nodeID:  nodeID,
		targets: defaultTargets,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (p *Poller) SetLogger(l *slog.Logger) { p.logger = l }

// Start arms a recurring probe at the given period, returning the
// scheduler job id so the caller can Stop via the same Scheduler.
func (p *Poller) Start(period time.Duration) string {
	return p.sched.AddInterval(period, p.sample)
}

func (p *Poller) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	online := p.probe(ctx)
	if _, err := p.reg.SetNodeValues(p.nodeID, []registry.SensorWrite{
		{SensorID: "online", Value: online},
	}, false); err != nil {
		p.logger.Warn("netsensors: write rejected, is the network gateway configured?", "node", p.nodeID, "error", err)
	}
}

// probe tries each target in turn, stopping at the first success. A single
// reachable target is enough to call the link online.
func (p *Poller) probe(ctx context.Context) bool {
	dialer := net.Dialer{Timeout: p.timeout / time.Duration(len(p.targets))}
	for _, t := range p.targets {
		addr := net.JoinHostPort(t.host, t.port)
		conn, err := dialer.DialContext(ctx, t.network, addr)
		if err != nil {
			p.logger.Debug("netsensors: target unreachable", "host", t.host, "error", err)
			continue
		}
		conn.Close()
		return true
	}
	return false
}
