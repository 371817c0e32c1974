package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sensorhub.dev/hub/internal/auditlog"
	"sensorhub.dev/hub/internal/changebus"
	"sensorhub.dev/hub/internal/config"
	"sensorhub.dev/hub/internal/core"
	"sensorhub.dev/hub/internal/exprlang"
	"sensorhub.dev/hub/internal/hostsensors"
	"sensorhub.dev/hub/internal/httpapi"
	"sensorhub.dev/hub/internal/metrics"
	"sensorhub.dev/hub/internal/netsensors"
	"sensorhub.dev/hub/internal/realtime"
	"sensorhub.dev/hub/internal/registry"
	"sensorhub.dev/hub/internal/scheduler"
)

const (
	logHistorySize   = 512
	auditFlushPeriod = time.Minute
	hostSensorPeriod = 15 * time.Second
	hostSensorNode   = "local"
	netSensorPeriod  = 10 * time.Second
	netSensorNode    = "internet"
	auditLogFileName = "sensorhub-audit.db"
)

// runServe wires and runs the whole daemon: scheduler, registry, change
// bus, realtime hub, HTTP API, Prometheus exposition and the host metrics
// poller, then blocks serving HTTP until the process is killed.
func runServe() error {
	logger := slog.Default()

	configPath := resolveConfigPath()
	loader := config.NewLoader(configPath)
	loader.SetLogger(logger)
	loader.SetTemplating(core.Config.GetBool(core.FlagTemplating))

	doc, err := loader.Load()
	if err != nil {
		return &ConfigError{Err: err}
	}

	sched := scheduler.New()
	sched.SetLogger(logger)
	defer sched.Stop()

	reg := registry.New(sched)
	reg.SetLogger(logger)
	reg.SetEvalRunner(exprlang.Eval)

	hub := realtime.NewHub(logHistorySize)

	auditPath := filepath.Join(configDir(), auditLogFileName)
	audit, err := auditlog.Open(auditPath)
	if err != nil {
		return &ConfigError{Err: fmt.Errorf("opening audit log: %w", err)}
	}
	audit.SetLogger(logger)
	defer audit.Close()
	sched.AddInterval(auditFlushPeriod, func() {
		if err := audit.Flush(); err != nil {
			logger.Warn("audit log flush failed", "error", err)
		}
	})

	bus := changebus.New(reg, &httpapi.EventBridge{Hub: hub}, &httpapi.ActuatorBridge{Hub: hub}, audit)
	bus.SetLogger(logger)
	reg.SetBus(bus)

	if err := reg.LoadConfig(doc); err != nil {
		return &ConfigError{Err: fmt.Errorf("loading sensor graph: %w", err)}
	}

	if !core.Config.GetBool(core.FlagVerbose) {
		loader.Watch(func() {
			if err := reloadConfig(reg, loader); err != nil {
				logger.Error("config reload failed", "error", err)
			}
		})
	}

	hostPoller := hostsensors.NewPoller(reg, sched, hostSensorNode)
	hostPoller.SetLogger(logger)
	hostPoller.Start(hostSensorPeriod)

	netPoller := netsensors.NewPoller(reg, sched, netSensorNode)
	netPoller.SetLogger(logger)
	netPoller.Start(netSensorPeriod)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(reg))

	server := httpapi.NewServer(reg, loader, hub)
	server.SetLogger(logger)
	router := server.Router()
	router.Handle("/prometheus", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", core.Config.GetString(core.FlagAddress), core.Config.GetInt(core.FlagPort))
	logger.Info("sensorhub listening", "addr", addr)
	return http.ListenAndServe(addr, router)
}

func reloadConfig(reg *registry.Registry, loader *config.Loader) error {
	doc, err := loader.Load()
	if err != nil {
		return err
	}
	reg.DefaultValues()
	if err := reg.LoadConfig(doc); err != nil {
		return err
	}
	reg.Dispatch()
	return nil
}

func resolveConfigPath() string {
	file := core.Config.GetString(core.FlagConfigFile)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(configDir(), file)
}

func configDir() string {
	return core.Config.GetString(core.FlagConfigDir)
}
