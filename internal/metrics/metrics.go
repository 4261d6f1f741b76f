package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InstancesStarted counts provisioned sandbox instances per scenario.
	InstancesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sadserver_instances_started_total",
		Help: "Sandbox instances started, by scenario.",
	}, []string{"scenario"})

	// InstancesActive tracks currently running sandbox instances.
	InstancesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sadserver_instances_active",
		Help: "Currently running sandbox instances.",
	})

	// SetupFailures counts failed setup procedures per scenario.
	SetupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sadserver_setup_failures_total",
		Help: "Failed scenario setup procedures, by scenario.",
	}, []string{"scenario"})

	// TerminalConnections tracks open terminal websocket connections.
	TerminalConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sadserver_terminal_connections",
		Help: "Open terminal websocket connections.",
	})

	// WebUILaunches counts analysis web UI launch attempts by outcome.
	WebUILaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sadserver_webui_launches_total",
		Help: "Analysis web UI launch attempts, by outcome.",
	}, []string{"outcome"})
)
