package auth

import (
	"context"
	"slices"
)

// ScopeAdmin allows reloading tool sources through the control API.
const ScopeAdmin = "tools:admin"

// Identity is an authenticated caller of the control API.
type Identity struct {
	// Subject identifies the caller and is never empty.
	Subject string

	// ServiceTier selects the invocation rate limit.
	ServiceTier string

	Scopes []string

	// Metadata carries provider specific values. "tenant_id" scopes the
	// key-value store.
	Metadata map[string]string
}

func (id *Identity) HasScope(scope string) bool {
	return id != nil && slices.Contains(id.Scopes, scope)
}

// TenantID returns the tenant of id, or "" in single-tenant mode.
func (id *Identity) TenantID() string {
	if id == nil {
		return ""
	}
	return id.Metadata["tenant_id"]
}

// Anonymous is the identity of every caller when authentication is off.
// It holds every scope.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: "default", Scopes: []string{ScopeAdmin}}
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
