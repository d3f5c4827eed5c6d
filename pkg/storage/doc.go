// Package storage defines the key-value store behind tool policy state,
// such as the one-time opt-in to global auto approval. The memory and
// postgres packages implement it; both partition keys by the tenant set
// with WithTenant.
package storage
