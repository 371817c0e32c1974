// Package hostsensors periodically pushes local machine metrics into the
// registry as an ordinary gateway named "host", through the same
// SetNodeValues path every other gateway uses — this is not a special code
// path in the core, grounded on the teacher's own gopsutil dependency
// (internal/daemon/server.go imports gopsutil/v3/net for awareness).
package hostsensors

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"sensorhub.dev/hub/internal/registry"
	"sensorhub.dev/hub/internal/scheduler"
)

// Gateway is the name the sensor graph's "host" gateway is registered under
// in the configuration document. The config must declare a node (commonly
// "local") with gauge sensors named cpu_percent, mem_percent, load1 and
// uptime_seconds for the poller's writes to land anywhere.
const Gateway = "host"

// Poller periodically samples the machine and writes into a registry node.
type Poller struct {
	reg    *registry.Registry
	sched  *scheduler.Scheduler
	nodeID string
	logger *slog.Logger
}

// NewPoller constructs a poller that will write to nodeID (typically
// "local") within the "host" gateway.
func NewPoller(reg *registry.Registry, sched *scheduler.Scheduler, nodeID string) *Poller {
	return &Poller{reg: reg, sched: sched, nodeID: nodeID, logger: slog.Default()}
}

// SetLogger overrides the default logger.
func (p *Poller) SetLogger(l *slog.Logger) { p.logger = l }

// Start arms a recurring sample at the given period, returning the
// scheduler job id so the caller can Stop via the same Scheduler.
func (p *Poller) Start(period time.Duration) string {
	return p.sched.AddInterval(period, p.sample)
}

func (p *Poller) sample() {
	writes := make([]registry.SensorWrite, 0, 4)

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		writes = append(writes, registry.SensorWrite{SensorID: "cpu_percent", Value: pct[0]})
	} else if err != nil {
		p.logger.Warn("hostsensors: cpu.Percent failed", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		writes = append(writes, registry.SensorWrite{SensorID: "mem_percent", Value: vm.UsedPercent})
	} else {
		p.logger.Warn("hostsensors: mem.VirtualMemory failed", "error", err)
	}

	if avg, err := load.Avg(); err == nil {
		writes = append(writes, registry.SensorWrite{SensorID: "load1", Value: avg.Load1})
	} else {
		p.logger.Warn("hostsensors: load.Avg failed", "error", err)
	}

	if uptime, err := host.Uptime(); err == nil {
		writes = append(writes, registry.SensorWrite{SensorID: "uptime_seconds", Value: float64(uptime)})
	} else {
		p.logger.Warn("hostsensors: host.Uptime failed", "error", err)
	}

	if len(writes) == 0 {
		return
	}
	if _, err := p.reg.SetNodeValues(p.nodeID, writes, false); err != nil {
		p.logger.Warn("hostsensors: write rejected, is the host gateway configured?", "node", p.nodeID, "error", err)
	}
}
