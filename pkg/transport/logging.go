package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/toolgate/pkg/debug"
)

// Logging returns middleware that emits a structured log entry for each
// request: method, path, status, duration and request ID. Server errors
// are logged at error level, everything else at debug level under the
// transport category so health probes do not flood the log.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"request_id", RequestIDFromContext(r.Context()),
			}
			if status >= http.StatusInternalServerError {
				logger.ErrorContext(r.Context(), "request failed", attrs...)
				return
			}
			debug.Log("transport", "request completed", attrs...)
		})
	}
}
