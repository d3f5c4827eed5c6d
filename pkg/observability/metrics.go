// Package observability provides Prometheus metrics, the invocation
// telemetry sink and HTTP middleware for monitoring toolgate.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ToolBuckets are histogram buckets for tool phases, from 5ms to 5min.
// Invocations that wait for a human land in the upper buckets.
var ToolBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 3, 10, 30, 120, 300}

var (
	// RequestsTotal counts HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ToolBuckets,
		},
		[]string{"method"},
	)

	// StreamingConnections tracks active SSE event streams.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolgate_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// ToolInvocationsTotal counts finished invocations by outcome.
	ToolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_tool_invocations_total",
			Help: "Tool invocations",
		},
		[]string{"tool_id", "source", "result"},
	)

	// ToolPrepareDuration records how long prepare took.
	ToolPrepareDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_tool_prepare_duration_seconds",
			Help:    "Tool prepare duration",
			Buckets: ToolBuckets,
		},
		[]string{"tool_id"},
	)

	// ToolInvokeDuration records how long the implementation ran.
	ToolInvokeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_tool_invoke_duration_seconds",
			Help:    "Tool invoke duration",
			Buckets: ToolBuckets,
		},
		[]string{"tool_id"},
	)

	// ToolPrepareUnresponsiveTotal counts prepare calls that ran past the
	// prepare timeout.
	ToolPrepareUnresponsiveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_tool_prepare_unresponsive_total",
			Help: "Unresponsive tool prepare calls",
		},
		[]string{"tool_id"},
	)

	// ToolConfirmationsTotal counts decided confirmation gates.
	ToolConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_tool_confirmations_total",
			Help: "Tool confirmations",
		},
		[]string{"gate", "kind"},
	)

	// UserActionSignalsTotal counts signals telling the user a call waits.
	UserActionSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_user_action_signals_total",
			Help: "User action required signals",
		},
		[]string{"signal"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		ToolInvocationsTotal,
		ToolPrepareDuration,
		ToolInvokeDuration,
		ToolPrepareUnresponsiveTotal,
		ToolConfirmationsTotal,
		UserActionSignalsTotal,
		RateLimitRejectedTotal,
	)
}
