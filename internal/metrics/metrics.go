// Package metrics holds the Prometheus collectors shared by the controller,
// the orchestrator and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts Start calls that reached the controller
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "symregweb_sessions_started_total",
		Help: "Total search sessions started",
	})

	// SessionTerminal counts terminal session states by outcome
	SessionTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symregweb_session_terminal_total",
		Help: "Total sessions reaching a terminal state by outcome",
	}, []string{"outcome"})

	// ControllerSteps counts engine step calls made by controllers
	ControllerSteps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "symregweb_controller_steps_total",
		Help: "Total engine step calls made by run-loop controllers",
	})

	// SnapshotsEmitted counts snapshot events sent by controllers
	SnapshotsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "symregweb_snapshots_emitted_total",
		Help: "Total snapshot events emitted by run-loop controllers",
	})

	// EngineFailures counts engine faults by operation
	EngineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symregweb_engine_failures_total",
		Help: "Total engine faults converted to error events by operation",
	}, []string{"operation"})

	// RunDuration tracks the wall time of one Run command
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "symregweb_run_duration_seconds",
		Help:    "Duration of one Run command until its terminal event",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"terminal"})

	// SnapshotsDropped counts snapshots coalesced away by the stream throttle
	SnapshotsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "symregweb_stream_snapshots_dropped_total",
		Help: "Total snapshot events superseded before delivery to stream clients",
	})
)
