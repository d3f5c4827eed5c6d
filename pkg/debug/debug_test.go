package debug

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// withCategories enables cats for the duration of the test.
func withCategories(t *testing.T, cats string) {
	t.Helper()
	prev := enabled.Load()
	setCategories(cats)
	t.Cleanup(func() { enabled.Store(prev) })
}

// keepDefaultLogger restores slog's default logger after the test.
func keepDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		input string
		want  map[string]bool
	}{
		{"", map[string]bool{}},
		{"invoke", map[string]bool{"invoke": true}},
		{" Invoke , REGISTRY ,,", map[string]bool{"invoke": true, "registry": true}},
		{"all", map[string]bool{"all": true}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, parseCategories(tt.input)); diff != "" {
			t.Errorf("parseCategories(%q) mismatch (-want +got):\n%s", tt.input, diff)
		}
	}
}

func TestEnabled(t *testing.T) {
	withCategories(t, "invoke,policy")
	for cat, want := range map[string]bool{"invoke": true, "policy": true, "mcp": false, "all": false} {
		if got := Enabled(cat); got != want {
			t.Errorf("Enabled(%q) = %v, want %v", cat, got, want)
		}
	}

	withCategories(t, "all")
	if !Enabled("anything") {
		t.Error("all does not enable every category")
	}

	withCategories(t, "")
	if Enabled("invoke") {
		t.Error("category enabled without configuration")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"TRACE":   LevelTrace,
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"WARN":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInit_ConfigAndEnvironment(t *testing.T) {
	keepDefaultLogger(t)
	prev := enabled.Load()
	t.Cleanup(func() { enabled.Store(prev) })

	t.Setenv("TOOLGATE_DEBUG", "")
	t.Setenv("TOOLGATE_LOG_LEVEL", "")
	var buf bytes.Buffer
	initTo(&buf, "invoke", "DEBUG", "json")

	Log("invoke", "awaiting confirmation", "call_id", "call_1")
	Log("mcp", "hidden")
	out := buf.String()
	if !strings.Contains(out, `"msg":"awaiting confirmation"`) || !strings.Contains(out, `"debug":"invoke"`) {
		t.Errorf("json output = %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("disabled category was logged")
	}

	// The environment wins over the configured values.
	t.Setenv("TOOLGATE_DEBUG", "mcp")
	t.Setenv("TOOLGATE_LOG_LEVEL", "ERROR")
	buf.Reset()
	initTo(&buf, "invoke", "DEBUG", "text")
	if !Enabled("mcp") || Enabled("invoke") {
		t.Error("TOOLGATE_DEBUG did not override the configured categories")
	}
	Log("mcp", "below error level")
	slog.Error("tool failed", "tool", "echo_input")
	out = buf.String()
	if strings.Contains(out, "below error level") || !strings.Contains(out, "msg=\"tool failed\"") {
		t.Errorf("text output = %q", out)
	}
}
