package transport

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rhuss/toolgate/pkg/api"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to server error responses. The server continues to
// accept new requests after a panic is recovered.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					slog.Error("panic in handler",
						"path", r.URL.Path,
						"request_id", RequestIDFromContext(r.Context()),
						"panic", v,
					)
					// Headers already sent: nothing sensible to add.
					if rec.status != 0 {
						return
					}
					WriteAPIError(w, api.NewServerError(fmt.Sprintf("internal server error: %v", v)))
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
