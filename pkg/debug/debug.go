// Package debug provides category-based debug logging for toolgate.
//
// Categories select WHAT is logged (TOOLGATE_DEBUG or logging.categories),
// the level selects HOW MUCH (TOOLGATE_LOG_LEVEL or logging.level):
//
//	debug.Log("invoke", "confirmation awaited", "tool", id, "call_id", callID)
//
// Categories: registry, naming, invoke, policy, settings, storage, mcp,
// auth, transport, or all.
package debug

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LevelTrace is one step more verbose than slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

var enabled atomic.Pointer[map[string]bool]

func init() {
	setCategories(os.Getenv("TOOLGATE_DEBUG"))
}

// Init installs the default slog handler and the enabled categories. The
// TOOLGATE_DEBUG and TOOLGATE_LOG_LEVEL environment variables win over the
// configured values. format "json" selects the JSON handler, anything else
// the text handler.
func Init(configCategories, configLevel, format string) {
	initTo(os.Stderr, configCategories, configLevel, format)
}

func initTo(w io.Writer, configCategories, configLevel, format string) {
	setCategories(firstNonEmpty(os.Getenv("TOOLGATE_DEBUG"), configCategories))

	opts := &slog.HandlerOptions{
		Level: ParseLevel(firstNonEmpty(os.Getenv("TOOLGATE_LOG_LEVEL"), configLevel)),
	}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// Enabled reports whether category is switched on.
func Enabled(category string) bool {
	m := *enabled.Load()
	return m["all"] || m[category]
}

// Log writes a debug record tagged with category, if it is enabled.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel maps ERROR, WARN, INFO, DEBUG and TRACE to slog levels.
// Unknown values mean INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setCategories(s string) {
	m := parseCategories(s)
	enabled.Store(&m)
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for cat := range strings.SplitSeq(s, ",") {
		if cat = strings.ToLower(strings.TrimSpace(cat)); cat != "" {
			m[cat] = true
		}
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
