package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lifecycle metrics
var (
	AgentStateGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "baragon_agent_state",
			Help: "Current agent lifecycle state (0=starting, 1=accepting, 2=stopping, 3=stopped)",
		},
	)

	StartupDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "baragon_agent_startup_duration_seconds",
			Help:    "Duration of the agent startup sequence in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
	)
)

// Periodic task metrics
var (
	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baragon_agent_task_runs_total",
			Help: "Total number of periodic task invocations",
		},
		[]string{"task", "result"}, // success, failure
	)

	TaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "baragon_agent_task_duration_seconds",
			Help:    "Duration of periodic task invocations in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"task"},
	)
)

// Heartbeat metrics
var (
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baragon_agent_heartbeats_total",
			Help: "Total number of heartbeat publications",
		},
		[]string{"result"},
	)
)

// Configuration metrics
var (
	ConfigAppliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baragon_agent_config_applies_total",
			Help: "Total number of load balancer config applications",
		},
		[]string{"result"},
	)

	ConfigDriftDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baragon_agent_config_drift_detected_total",
			Help: "Total number of config drift detections",
		},
	)

	DirectoryEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baragon_agent_directory_events_total",
			Help: "Total number of filesystem change events on watched config directories",
		},
	)
)

// Coordination metrics
var (
	ResyncsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baragon_agent_resyncs_total",
			Help: "Total number of full resyncs triggered by coordination reconnects",
		},
	)

	ConnectionStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baragon_agent_connection_state_changes_total",
			Help: "Total number of coordination connection state transitions",
		},
		[]string{"state"},
	)
)
