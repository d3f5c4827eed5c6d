package observability

import (
	"context"
	"log/slog"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/invoke"
)

// Telemetry is the invocation telemetry sink. It records Prometheus
// metrics and logs each finished invocation.
type Telemetry struct {
	logger *slog.Logger
}

var _ invoke.Telemetry = (*Telemetry)(nil)

// NewTelemetry creates a sink logging to logger, or slog.Default if nil.
func NewTelemetry(logger *slog.Logger) *Telemetry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telemetry{logger: logger}
}

// ToolInvoked records a finished invocation.
func (t *Telemetry) ToolInvoked(ev invoke.InvokedEvent) {
	ToolInvocationsTotal.WithLabelValues(ev.ToolID, sourceLabel(ev.Source), string(ev.Outcome)).Inc()
	ToolPrepareDuration.WithLabelValues(ev.ToolID).Observe(ev.PrepareDuration.Seconds())
	if ev.InvokeDuration > 0 {
		ToolInvokeDuration.WithLabelValues(ev.ToolID).Observe(ev.InvokeDuration.Seconds())
	}

	attrs := []any{
		"tool", ev.ToolID,
		"source", sourceLabel(ev.Source),
		"result", ev.Outcome,
		"prepare_ms", ev.PrepareDuration.Milliseconds(),
		"invoke_ms", ev.InvokeDuration.Milliseconds(),
	}
	if ev.ChatSessionID != "" {
		attrs = append(attrs, "session", ev.ChatSessionID)
	}
	if ev.Outcome == invoke.OutcomeError {
		t.logger.Warn("tool invoked", attrs...)
		return
	}
	t.logger.Info("tool invoked", attrs...)
}

// ToolConfirmed records a decided confirmation gate.
func (t *Telemetry) ToolConfirmed(ev invoke.ConfirmedEvent) {
	ToolConfirmationsTotal.WithLabelValues(ev.Gate, ev.Kind.String()).Inc()
}

// PrepareUnresponsive records a prepare call past the prepare timeout.
func (t *Telemetry) PrepareUnresponsive(ev invoke.UnresponsiveEvent) {
	ToolPrepareUnresponsiveTotal.WithLabelValues(ev.Tool.ID).Inc()
}

// sourceLabel keeps label cardinality bounded: extension and MCP sources
// are labelled by kind only.
func sourceLabel(s api.ToolSource) string {
	if s.Kind == "" {
		return "unknown"
	}
	return string(s.Kind)
}

// SignalLogger emits user action signals as log records, for deployments
// without an accessibility front end.
type SignalLogger struct {
	logger *slog.Logger
}

var _ invoke.AccessibilitySignals = (*SignalLogger)(nil)

// NewSignalLogger creates a SignalLogger writing to logger, or
// slog.Default if nil.
func NewSignalLogger(logger *slog.Logger) *SignalLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalLogger{logger: logger}
}

// UserActionRequired logs that a call waits for confirmation.
func (s *SignalLogger) UserActionRequired(ctx context.Context, ev invoke.SignalEvent) {
	if ev.Alert.Sound {
		UserActionSignalsTotal.WithLabelValues("sound").Inc()
	}
	if ev.Alert.Announcement {
		UserActionSignalsTotal.WithLabelValues("announcement").Inc()
	}
	s.logger.InfoContext(ctx, "tool call requires user action",
		"tool", ev.ToolID,
		"call_id", ev.CallID,
		"session", ev.ChatSessionID,
		"sound", ev.Alert.Sound,
		"announcement", ev.Alert.Announcement,
	)
}
