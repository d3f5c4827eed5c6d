package when

import (
	"maps"
	"sync"

	"github.com/rhuss/toolgate/pkg/event"
)

// Change lists the keys modified by a single Set, Delete or Apply call.
type Change struct {
	Keys []string
}

// Affects reports whether any of keys was modified.
func (c Change) Affects(keys []string) bool {
	for _, k := range keys {
		for _, changed := range c.Keys {
			if k == changed {
				return true
			}
		}
	}
	return false
}

// Context is a concurrency-safe key/value store that predicates are
// evaluated against.
type Context struct {
	mu       sync.RWMutex
	values   map[string]any
	onChange event.Emitter[Change]
}

// NewContext creates a Context seeded with initial values.
func NewContext(initial map[string]any) *Context {
	c := &Context{values: make(map[string]any, len(initial))}
	maps.Copy(c.values, initial)
	return c
}

// Value implements Lookup.
func (c *Context) Value(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value and notifies subscribers if it changed.
func (c *Context) Set(key string, value any) {
	c.Apply(map[string]any{key: value})
}

// Delete removes a key.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	_, existed := c.values[key]
	delete(c.values, key)
	c.mu.Unlock()
	if existed {
		c.onChange.Fire(Change{Keys: []string{key}})
	}
}

// Apply stores several values and fires a single change event.
func (c *Context) Apply(values map[string]any) {
	var changed []string
	c.mu.Lock()
	for k, v := range values {
		if old, ok := c.values[k]; ok && looseEqual(old, v) {
			continue
		}
		c.values[k] = v
		changed = append(changed, k)
	}
	c.mu.Unlock()
	if len(changed) > 0 {
		c.onChange.Fire(Change{Keys: changed})
	}
}

// Snapshot returns a copy of all values.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values)
}

// OnDidChange subscribes to value changes.
func (c *Context) OnDidChange(fn func(Change)) event.Disposable {
	return c.onChange.Subscribe(fn)
}
