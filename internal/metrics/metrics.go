// Package metrics exposes Prometheus instrumentation for debug sessions.
//
// Collectors are registered with the default registry; the CLI serves them
// with promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

var (
	// commandsTotal tracks commands sent to the runtime
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodedbg_commands_total",
			Help: "Total debugger commands by command name and outcome",
		},
		[]string{"command", "outcome"},
	)

	// commandDuration tracks round-trip latency of commands
	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nodedbg_command_duration_seconds",
			Help:    "Debugger command round-trip time by command name",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"command"},
	)

	// eventsTotal tracks classified runtime events
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodedbg_events_total",
			Help: "Total runtime events by kind",
		},
		[]string{"kind"},
	)

	// protocolErrors tracks malformed frames
	protocolErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodedbg_protocol_errors_total",
			Help: "Total malformed frames, split by whether they closed the connection",
		},
		[]string{"fatal"},
	)

	// unmatchedResponses tracks stray or late responses
	unmatchedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nodedbg_unmatched_responses_total",
			Help: "Total responses that matched no pending request",
		},
	)

	// pendingRequests tracks in-flight commands across sessions
	pendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodedbg_pending_requests",
			Help: "Number of commands awaiting a response",
		},
	)

	// activeSessions tracks open connections
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodedbg_active_sessions",
			Help: "Number of open debugger connections",
		},
	)

	// hookRuns tracks stop-event hook executions
	hookRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodedbg_hook_runs_total",
			Help: "Total hook executions by hook name and resulting action",
		},
		[]string{"hook", "action"},
	)
)

// RecordCommand records one finished command.
func RecordCommand(command, outcome string, elapsed time.Duration) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// RecordEvent records one classified event.
func RecordEvent(kind string) {
	eventsTotal.WithLabelValues(kind).Inc()
}

// RecordProtocolError records one malformed frame.
func RecordProtocolError(fatal bool) {
	label := "false"
	if fatal {
		label = "true"
	}
	protocolErrors.WithLabelValues(label).Inc()
}

// RecordUnmatchedResponse records a response nobody was waiting for.
func RecordUnmatchedResponse() {
	unmatchedResponses.Inc()
}

// RequestStarted increments the pending request gauge.
func RequestStarted() {
	pendingRequests.Inc()
}

// RequestFinished decrements the pending request gauge.
func RequestFinished() {
	pendingRequests.Dec()
}

// SessionOpened increments the active session gauge.
func SessionOpened() {
	activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func SessionClosed() {
	activeSessions.Dec()
}

// RecordHookRun records one hook execution.
func RecordHookRun(hook, action string) {
	hookRuns.WithLabelValues(hook, action).Inc()
}
