// Package memory provides an in-memory implementation of storage.KVStore
// for tests and single-process deployments. Values are lost when the
// process restarts.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rhuss/toolgate/pkg/storage"
)

type key struct {
	tenant string
	scope  storage.Scope
	name   string
}

// entry holds a stored value and its metadata.
type entry struct {
	value     string
	target    storage.Target
	updatedAt time.Time
}

// Store is an in-memory KVStore.
type Store struct {
	mu      sync.RWMutex
	entries map[key]*entry
}

// Ensure Store implements storage.KVStore at compile time.
var _ storage.KVStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{entries: make(map[key]*entry)}
}

func keyFor(ctx context.Context, name string, scope storage.Scope) key {
	return key{tenant: storage.TenantFrom(ctx), scope: scope, name: name}
}

// Get returns the value stored under name.
func (s *Store) Get(ctx context.Context, name string, scope storage.Scope) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[keyFor(ctx, name, scope)]
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under name.
func (s *Store) Set(ctx context.Context, name, value string, scope storage.Scope, target storage.Target) error {
	if err := storage.Validate(scope, target); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[keyFor(ctx, name, scope)] = &entry{value: value, target: target, updatedAt: time.Now()}
	return nil
}

// Delete removes name.
func (s *Store) Delete(ctx context.Context, name string, scope storage.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyFor(ctx, name, scope)
	if _, ok := s.entries[k]; !ok {
		return storage.ErrNotFound
	}
	delete(s.entries, k)
	return nil
}

// Len returns the number of stored values across all tenants.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
