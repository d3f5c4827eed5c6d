package observability

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/invoke"
	"github.com/rhuss/toolgate/pkg/policy"
)

// TestMetricsRegistered verifies that all metrics are registered in the
// default registry once they have been observed.
func TestMetricsRegistered(t *testing.T) {
	RequestsTotal.WithLabelValues("GET", "2xx").Inc()
	RequestDuration.WithLabelValues("GET").Observe(0.1)
	ToolInvocationsTotal.WithLabelValues("seed", "internal", "success").Inc()
	ToolPrepareDuration.WithLabelValues("seed").Observe(0.01)
	ToolInvokeDuration.WithLabelValues("seed").Observe(0.01)
	ToolPrepareUnresponsiveTotal.WithLabelValues("seed").Inc()
	ToolConfirmationsTotal.WithLabelValues("pre", "user_approved").Inc()
	UserActionSignalsTotal.WithLabelValues("sound").Inc()
	RateLimitRejectedTotal.WithLabelValues("default").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"toolgate_requests_total":                  false,
		"toolgate_request_duration_seconds":        false,
		"toolgate_streaming_connections_active":    false,
		"toolgate_tool_invocations_total":          false,
		"toolgate_tool_prepare_duration_seconds":   false,
		"toolgate_tool_invoke_duration_seconds":    false,
		"toolgate_tool_prepare_unresponsive_total": false,
		"toolgate_tool_confirmations_total":        false,
		"toolgate_user_action_signals_total":       false,
		"toolgate_ratelimit_rejected_total":        false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in default registry", name)
		}
	}
}

// TestMiddlewareRecordsRequestCount verifies that the middleware increments
// the request counter for each served request.
func TestMiddlewareRecordsRequestCount(t *testing.T) {
	before := counterValue(t, RequestsTotal, "GET", "2xx")

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/tools", nil))

	after := counterValue(t, RequestsTotal, "GET", "2xx")
	if after-before != 1 {
		t.Errorf("expected request count to increase by 1, got delta=%f", after-before)
	}
}

// TestMiddlewareRecordsDuration verifies that the middleware records
// a request duration observation.
func TestMiddlewareRecordsDuration(t *testing.T) {
	before := histogramCount(t, RequestDuration, "POST")

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/tools/echo_input/invocations", nil))

	after := histogramCount(t, RequestDuration, "POST")
	if after-before != 1 {
		t.Errorf("expected histogram sample count to increase by 1, got delta=%d", after-before)
	}
}

// TestMiddlewareStreamingGauge verifies that the streaming gauge is held
// while an event stream is served.
func TestMiddlewareStreamingGauge(t *testing.T) {
	baseline := gaugeValue(t, StreamingConnections)

	inHandler := make(chan float64, 1)
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler <- gaugeValue(t, StreamingConnections)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/sessions/s1/events", nil)
	req.Header.Set("Accept", "text/event-stream")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if during := <-inHandler; during != baseline+1 {
		t.Errorf("expected streaming gauge=%f during request, got %f", baseline+1, during)
	}
	if after := gaugeValue(t, StreamingConnections); after != baseline {
		t.Errorf("expected streaming gauge=%f after request, got %f", baseline, after)
	}
}

// TestMiddlewareCapturesStatusCode verifies that non-200 status codes are
// captured in the status label.
func TestMiddlewareCapturesStatusCode(t *testing.T) {
	before := counterValue(t, RequestsTotal, "POST", "4xx")

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/tools/nope/invocations", nil))

	after := counterValue(t, RequestsTotal, "POST", "4xx")
	if after-before != 1 {
		t.Errorf("expected 4xx count to increase by 1, got delta=%f", after-before)
	}
}

// TestStatusWriterFlush verifies that Flush reaches the underlying writer.
func TestStatusWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	sw.Flush()
	if !rec.Flushed {
		t.Error("expected underlying writer to be flushed")
	}
}

func TestTelemetry_ToolInvoked(t *testing.T) {
	var buf bytes.Buffer
	tel := NewTelemetry(slog.New(slog.NewTextHandler(&buf, nil)))

	before := counterValue(t, ToolInvocationsTotal, "tel_tool", "mcp", "error")
	prepBefore := histogramCount(t, ToolPrepareDuration, "tel_tool")

	tel.ToolInvoked(invoke.InvokedEvent{
		ToolID:          "tel_tool",
		Source:          api.MCPSource("github"),
		Outcome:         invoke.OutcomeError,
		ChatSessionID:   "sess_1",
		PrepareDuration: 20 * time.Millisecond,
		InvokeDuration:  time.Second,
	})

	if d := counterValue(t, ToolInvocationsTotal, "tel_tool", "mcp", "error") - before; d != 1 {
		t.Errorf("invocations delta = %f, want 1", d)
	}
	if d := histogramCount(t, ToolPrepareDuration, "tel_tool") - prepBefore; d != 1 {
		t.Errorf("prepare observations delta = %d, want 1", d)
	}
	out := buf.String()
	for _, want := range []string{"level=WARN", "tool=tel_tool", "result=error", "session=sess_1", "invoke_ms=1000"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q does not contain %q", out, want)
		}
	}
}

func TestTelemetry_ConfirmationsAndUnresponsive(t *testing.T) {
	tel := NewTelemetry(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	confBefore := counterValue(t, ToolConfirmationsTotal, "post", "skipped")
	tel.ToolConfirmed(invoke.ConfirmedEvent{ToolID: "x", Gate: invoke.GatePost, Kind: api.ConfirmSkipped})
	if d := counterValue(t, ToolConfirmationsTotal, "post", "skipped") - confBefore; d != 1 {
		t.Errorf("confirmations delta = %f, want 1", d)
	}

	unBefore := counterValue(t, ToolPrepareUnresponsiveTotal, "slow_tool")
	tel.PrepareUnresponsive(invoke.UnresponsiveEvent{Tool: api.ToolData{ID: "slow_tool"}})
	if d := counterValue(t, ToolPrepareUnresponsiveTotal, "slow_tool") - unBefore; d != 1 {
		t.Errorf("unresponsive delta = %f, want 1", d)
	}
}

func TestSignalLogger(t *testing.T) {
	var buf bytes.Buffer
	s := NewSignalLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	before := counterValue(t, UserActionSignalsTotal, "announcement")
	s.UserActionRequired(context.Background(), invoke.SignalEvent{
		ToolID: "ask",
		CallID: "call_1",
		Alert:  policy.Alert{Announcement: true},
	})
	if d := counterValue(t, UserActionSignalsTotal, "announcement") - before; d != 1 {
		t.Errorf("signals delta = %f, want 1", d)
	}
	if !strings.Contains(buf.String(), "call_id=call_1") {
		t.Errorf("log = %q", buf.String())
	}
}

// counterValue reads the current value of a CounterVec for the given labels.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// histogramCount reads the observation count from a HistogramVec.
func histogramCount(t *testing.T, hv *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	obs, err := hv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting histogram metric: %v", err)
	}
	if err := obs.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing histogram metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

// gaugeValue reads the current value of a Gauge.
func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("writing gauge metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
