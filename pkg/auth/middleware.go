package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/observability"
	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/transport"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware runs chain for every request except the bypass endpoints. It
// stores the identity in the request context and scopes storage to the
// identity's tenant.
func Middleware(chain *Chain, bypassEndpoints []string) transport.Middleware {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)
			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				transport.WriteAPIError(w, &api.APIError{
					Type:    api.ErrorTypeUnauthorized,
					Message: "authentication required",
				})
				return
			}

			if result.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			ctx := WithIdentity(r.Context(), result.Identity)
			if tenantID := result.Identity.TenantID(); tenantID != "" {
				ctx = storage.WithTenant(ctx, tenantID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit rejects requests of identities over their limit with 429.
// Requests without an identity in the context pass; install it behind
// Middleware.
func RateLimit(limiter RateLimiter) transport.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			if id != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					tier := id.ServiceTier
					if tier == "" {
						tier = "default"
					}
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", tier)
					observability.RateLimitRejectedTotal.WithLabelValues(tier).Inc()
					transport.WriteAPIError(w, &api.APIError{
						Type:    api.ErrorTypeTooManyRequests,
						Message: "rate limit exceeded",
					})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireScope answers 403 to identities without scope. Requests without
// an identity pass; install it behind Middleware.
func RequireScope(scope string) transport.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := IdentityFrom(r.Context()); id != nil && !id.HasScope(scope) {
				slog.Warn("missing scope", "subject", id.Subject, "scope", scope, "path", r.URL.Path)
				transport.WriteAPIError(w, &api.APIError{
					Type:    api.ErrorTypeForbidden,
					Message: fmt.Sprintf("scope %q required", scope),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
