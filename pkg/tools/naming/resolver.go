package naming

import (
	"slices"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/tools/registry"
)

// Source provides consistent views of the registered tools and tool sets.
// *registry.Registry implements it.
type Source interface {
	Snapshot() registry.Snapshot
}

// Entry is one prompt-referencable tool or tool set with its qualified name.
// A tool listed in a tool set appears once per containing set.
type Entry struct {
	Name string

	// Exactly one of Tool and ToolSet is set.
	Tool    *api.ToolData
	ToolSet *api.ToolSet

	// Members holds the visible tools of a tool set entry.
	Members []api.ToolData
}

// Key returns the enablement key of the entry.
func (e Entry) Key() api.EnablementKey {
	if e.ToolSet != nil {
		return api.ToolSetKey(e.ToolSet.ID)
	}
	return api.ToolKey(e.Tool.ID)
}

func (e Entry) legacyNames() []string {
	if e.ToolSet != nil {
		return e.ToolSet.LegacyFullNames
	}
	return e.Tool.LegacyToolReferenceFullNames
}

// Resolver converts between qualified names and tool/tool set identities.
// It holds no state of its own and reads a fresh snapshot on every call.
type Resolver struct {
	src Source
}

// NewResolver returns a Resolver reading from src.
func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Entries returns the prompt-referencable entries in resolution order:
// every tool set not sourced from user storage followed by its members,
// then the standalone tools not covered by any of those sets.
func (r *Resolver) Entries() []Entry {
	return entries(r.src.Snapshot())
}

func entries(snap registry.Snapshot) []Entry {
	var out []Entry
	covered := make(map[string]bool)
	for _, v := range snap.ToolSets {
		if v.Set.Source.Kind == api.SourceUser {
			continue
		}
		set := v.Set
		out = append(out, Entry{Name: ToolSetQualifiedName(set), ToolSet: &set, Members: v.Tools})
		for i := range v.Tools {
			t := v.Tools[i]
			out = append(out, Entry{Name: MemberQualifiedName(set, t), Tool: &t})
			covered[t.ID] = true
		}
	}
	for i := range snap.Tools {
		t := snap.Tools[i]
		if !t.CanBeReferencedInPrompt || covered[t.ID] {
			continue
		}
		out = append(out, Entry{Name: ToolQualifiedName(t), Tool: &t})
	}
	return out
}

// QualifiedToolNames returns every qualified name, without duplicates, in
// resolution order.
func (r *Resolver) QualifiedToolNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, e := range r.Entries() {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	return names
}

// ToQualifiedToolNames returns the names of the enabled entries in m. An
// enabled tool set stands for its members, so they are not listed again. A
// tool shared by several sets is listed once, under the first of them.
func (r *Resolver) ToQualifiedToolNames(m api.EnablementMap) []string {
	all := r.Entries()

	covered := make(map[string]bool)
	for _, e := range all {
		if e.ToolSet != nil && m[e.Key()] {
			for _, t := range e.Members {
				covered[t.ID] = true
			}
		}
	}

	var names []string
	listed := make(map[string]bool)
	for _, e := range all {
		if e.ToolSet != nil {
			if m[e.Key()] {
				names = append(names, e.Name)
			}
			continue
		}
		id := e.Tool.ID
		if m[e.Key()] && !covered[id] && !listed[id] {
			listed[id] = true
			names = append(names, e.Name)
		}
	}
	return names
}

// ToToolAndToolSetEnablementMap resolves a list of qualified names into an
// explicit enablement decision for every referencable tool and tool set.
//
// Names are matched exactly, then against tool set wildcards, then against
// legacy names. A legacy tool name "P/x" also matches when P itself (or
// "P/*") is listed, so enabling a former tool set keeps its former members
// on. Enabling a tool set enables every member. User tool sets are enabled
// only when all their members are. target selects the naming scheme of an
// external ecosystem; GitHub Copilot names are accepted when it is empty or
// TargetGitHubCopilot.
func (r *Resolver) ToToolAndToolSetEnablementMap(names []string, target string) api.EnablementMap {
	snap := r.src.Snapshot()
	want := expandNames(names, target)
	result := make(api.EnablementMap)

	for _, e := range entries(snap) {
		key := e.Key()
		if e.ToolSet != nil {
			enabled := matchesToolSet(e, want)
			result[key] = enabled
			if enabled {
				for _, t := range e.Members {
					result[api.ToolKey(t.ID)] = true
				}
			}
			continue
		}
		// A tool shared by several sets appears once per set; any of its
		// names enables it.
		result[key] = result[key] || want[e.Name] || matchesLegacy(e.legacyNames(), want)
	}

	for _, v := range snap.ToolSets {
		if v.Set.Source.Kind != api.SourceUser {
			continue
		}
		all := true
		for _, t := range v.Tools {
			if !result[api.ToolKey(t.ID)] {
				all = false
				break
			}
		}
		result[api.ToolSetKey(v.Set.ID)] = all
	}

	debug.Log("naming", "resolved enablement", "names", len(names), "target", target, "entries", len(result))
	return result
}

func matchesToolSet(e Entry, want map[string]bool) bool {
	for _, n := range setNameVariants(e.Name) {
		if want[n] {
			return true
		}
	}
	if want[e.ToolSet.ReferenceName] {
		return true
	}
	for _, legacy := range e.ToolSet.LegacyFullNames {
		if want[legacy] {
			return true
		}
	}
	return false
}

func matchesLegacy(legacy []string, want map[string]bool) bool {
	for _, name := range legacy {
		if want[name] {
			return true
		}
		if prefix, ok := legacyPrefix(name); ok && (want[prefix] || want[prefix+"/*"]) {
			return true
		}
	}
	return false
}

// DeprecatedQualifiedToolNames maps every legacy name to the current
// qualified names that replaced it. A legacy name equal to the current
// name is not deprecated and is left out.
func (r *Resolver) DeprecatedQualifiedToolNames() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, e := range r.Entries() {
		for _, legacy := range e.legacyNames() {
			if legacy == e.Name {
				continue
			}
			if out[legacy] == nil {
				out[legacy] = make(map[string]struct{})
			}
			out[legacy][e.Name] = struct{}{}
		}
	}
	return out
}

// ToolByQualifiedName returns the tool a qualified or legacy name refers to.
// Current names take precedence over legacy ones.
func (r *Resolver) ToolByQualifiedName(name string) (api.ToolData, bool) {
	es := r.Entries()
	for _, e := range es {
		if e.Tool != nil && e.Name == name {
			return *e.Tool, true
		}
	}
	for _, e := range es {
		if e.Tool != nil && slices.Contains(e.Tool.LegacyToolReferenceFullNames, name) {
			return *e.Tool, true
		}
	}
	return api.ToolData{}, false
}

// ToolSetByQualifiedName returns the tool set a qualified or legacy name
// refers to. The wildcard suffix of MCP tool sets is optional.
func (r *Resolver) ToolSetByQualifiedName(name string) (api.ToolSet, bool) {
	es := r.Entries()
	for _, e := range es {
		if e.ToolSet != nil && slices.Contains(setNameVariants(e.Name), name) {
			return *e.ToolSet, true
		}
	}
	for _, e := range es {
		if e.ToolSet != nil && slices.Contains(e.ToolSet.LegacyFullNames, name) {
			return *e.ToolSet, true
		}
	}
	return api.ToolSet{}, false
}
