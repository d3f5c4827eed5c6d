package registry

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/event"
)

// ToolSetOptions holds the optional attributes of a tool set.
type ToolSetOptions struct {
	Description     string
	Icon            string
	LegacyFullNames []string
}

// ToolSetHandle is a live reference to a tool set created through
// CreateToolSet. It holds the set id, the registry entry it was issued for
// and a back-reference to the registry; all state lives in the registry.
// Once its set is disposed the handle is stale: it never touches a later
// set created under the same id.
type ToolSetHandle struct {
	id    string
	entry *toolSetEntry
	reg   *Registry
}

// ID returns the tool set id.
func (h *ToolSetHandle) ID() string { return h.id }

// liveLocked reports whether the handle's set is still registered.
func (h *ToolSetHandle) liveLocked() bool {
	cur, ok := h.reg.toolSets[h.id]
	return ok && cur == h.entry
}

// Set returns the current tool set data.
func (h *ToolSetHandle) Set() (api.ToolSet, bool) {
	r := h.reg
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !h.liveLocked() {
		return api.ToolSet{}, false
	}
	return h.entry.set.Clone(), true
}

// Tools returns the visible member tools.
func (h *ToolSetHandle) Tools() []api.ToolData {
	r := h.reg
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !h.liveLocked() {
		return nil
	}
	return r.membersLocked(h.entry)
}

// AddTool adds a registered tool to the set. The returned handle removes it
// again.
func (h *ToolSetHandle) AddTool(toolID string) (event.Disposable, error) {
	r := h.reg
	r.mu.Lock()
	ts := h.entry
	if !h.liveLocked() {
		r.mu.Unlock()
		return nil, fmt.Errorf("tool set %q has been disposed", h.id)
	}
	if _, ok := r.tools[toolID]; !ok {
		r.mu.Unlock()
		return nil, api.NotContributedError(toolID)
	}
	added := !slices.Contains(ts.members, toolID)
	if added {
		ts.members = append(ts.members, toolID)
	}
	r.mu.Unlock()

	if added {
		debug.Log("registry", "tool added to tool set", "set", h.id, "tool", toolID)
		r.onDidChangeToolSets.Fire(struct{}{})
	}
	return event.DisposeFunc(func() { h.removeTool(ts, toolID) }), nil
}

func (h *ToolSetHandle) removeTool(ts *toolSetEntry, toolID string) {
	r := h.reg
	r.mu.Lock()
	cur, ok := r.toolSets[h.id]
	removed := false
	if ok && cur == ts {
		if i := slices.Index(ts.members, toolID); i >= 0 {
			ts.members = slices.Delete(ts.members, i, i+1)
			removed = true
		}
	}
	r.mu.Unlock()
	if removed {
		r.onDidChangeToolSets.Fire(struct{}{})
	}
}

// Dispose removes the tool set from the registry. Member tools stay
// registered.
func (h *ToolSetHandle) Dispose() {
	r := h.reg
	r.mu.Lock()
	ok := h.liveLocked()
	if ok {
		delete(r.toolSets, h.id)
		registeredToolSets.Set(float64(len(r.toolSets)))
	}
	r.mu.Unlock()
	if ok {
		debug.Log("registry", "tool set disposed", "id", h.id)
		r.onDidChangeToolSets.Fire(struct{}{})
	}
}

// CreateToolSet creates an empty tool set.
func (r *Registry) CreateToolSet(source api.ToolSource, id, referenceName string, opts ToolSetOptions) (*ToolSetHandle, error) {
	set := api.ToolSet{
		ID:              id,
		ReferenceName:   referenceName,
		Description:     opts.Description,
		Icon:            opts.Icon,
		Source:          source,
		LegacyFullNames: slices.Clone(opts.LegacyFullNames),
	}
	if apiErr := api.ValidateToolSet(set); apiErr != nil {
		return nil, apiErr
	}

	r.mu.Lock()
	if _, ok := r.toolSets[id]; ok {
		r.mu.Unlock()
		return nil, api.AlreadyRegisteredError(id)
	}
	r.seq++
	entry := &toolSetEntry{set: set, seq: r.seq}
	r.toolSets[id] = entry
	registeredToolSets.Set(float64(len(r.toolSets)))
	r.mu.Unlock()

	debug.Log("registry", "tool set created", "id", id, "reference_name", referenceName, "source", source.Kind)
	r.onDidChangeToolSets.Fire(struct{}{})
	return &ToolSetHandle{id: id, entry: entry, reg: r}, nil
}

// GetToolSet returns a tool set by id.
func (r *Registry) GetToolSet(id string) (api.ToolSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.toolSets[id]
	if !ok {
		return api.ToolSet{}, false
	}
	return ts.set.Clone(), true
}

// GetToolSetByName returns the first tool set with the given reference name.
func (r *Registry) GetToolSetByName(refName string) (api.ToolSet, bool) {
	for _, s := range r.ToolSets() {
		if s.ReferenceName == refName {
			return s, true
		}
	}
	return api.ToolSet{}, false
}

// ToolSetHandle returns a handle for an existing tool set.
func (r *Registry) ToolSetHandle(id string) (*ToolSetHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.toolSets[id]
	if !ok {
		return nil, false
	}
	return &ToolSetHandle{id: id, entry: ts, reg: r}, true
}

// ToolSets returns every tool set in creation order.
func (r *Registry) ToolSets() []api.ToolSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sets := r.sortedSetsLocked()
	out := make([]api.ToolSet, len(sets))
	for i, ts := range sets {
		out[i] = ts.set.Clone()
	}
	return out
}

// ToolSetMembers returns the visible member tools of a set in insertion order.
func (r *Registry) ToolSetMembers(id string) []api.ToolData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.toolSets[id]
	if !ok {
		return nil
	}
	return r.membersLocked(ts)
}

func (r *Registry) membersLocked(ts *toolSetEntry) []api.ToolData {
	var out []api.ToolData
	for _, id := range ts.members {
		if e, ok := r.tools[id]; ok && r.visibleLocked(e) {
			out = append(out, e.data.Clone())
		}
	}
	return out
}

func (r *Registry) sortedSetsLocked() []*toolSetEntry {
	sets := make([]*toolSetEntry, 0, len(r.toolSets))
	for _, ts := range r.toolSets {
		sets = append(sets, ts)
	}
	slices.SortFunc(sets, func(a, b *toolSetEntry) int { return cmp.Compare(a.seq, b.seq) })
	return sets
}

// ToolSetView is a tool set with its visible members.
type ToolSetView struct {
	Set   api.ToolSet
	Tools []api.ToolData
}

// Snapshot is a consistent view of the visible tools and all tool sets.
type Snapshot struct {
	Tools    []api.ToolData
	ToolSets []ToolSetView
}

// Snapshot captures tools and tool sets under a single read lock.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{Tools: r.toolListLocked(false)}
	for _, ts := range r.sortedSetsLocked() {
		snap.ToolSets = append(snap.ToolSets, ToolSetView{
			Set:   ts.set.Clone(),
			Tools: r.membersLocked(ts),
		})
	}
	return snap
}
