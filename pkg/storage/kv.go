package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrNotFound     = errors.New("key not found")
	ErrInvalidScope = errors.New("invalid storage scope")
)

// Scope partitions stored keys by how widely they apply.
type Scope string

const (
	// ScopeApplication applies to every profile and workspace.
	ScopeApplication Scope = "application"
	ScopeProfile     Scope = "profile"
	ScopeWorkspace   Scope = "workspace"
)

// Target records whether a value belongs to the user, and may follow them
// across machines, or to the local machine only.
type Target string

const (
	TargetUser    Target = "user"
	TargetMachine Target = "machine"
)

// Validate checks scope and target.
func Validate(scope Scope, target Target) error {
	switch scope {
	case ScopeApplication, ScopeProfile, ScopeWorkspace:
	default:
		return fmt.Errorf("%w: scope %q", ErrInvalidScope, scope)
	}
	switch target {
	case TargetUser, TargetMachine:
	default:
		return fmt.Errorf("%w: target %q", ErrInvalidScope, target)
	}
	return nil
}

// KVStore persists string values by scope and key. Values are isolated per
// tenant (see WithTenant).
type KVStore interface {
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string, scope Scope) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string, scope Scope, target Target) error

	// Delete removes key. It returns ErrNotFound when the key is absent.
	Delete(ctx context.Context, key string, scope Scope) error

	// Close releases resources held by the store.
	Close() error
}

// GetBool reads a boolean value. A missing or malformed value yields
// fallback.
func GetBool(ctx context.Context, kv KVStore, key string, scope Scope, fallback bool) (bool, error) {
	raw, ok, err := kv.Get(ctx, key, scope)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, nil
	}
	return b, nil
}

type tenantKey struct{}

// WithTenant returns a copy of ctx whose store accesses are confined to
// tenant. The auth middleware sets it from the caller's identity.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFrom returns the tenant of ctx; "" is the single shared tenant.
func TenantFrom(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}

// SetBool stores a boolean value.
func SetBool(ctx context.Context, kv KVStore, key string, value bool, scope Scope, target Target) error {
	return kv.Set(ctx, key, strconv.FormatBool(value), scope, target)
}
