// Package toolsets loads user-defined tool sets from a YAML file.
//
// The file maps a tool set name to its description, icon and the qualified
// names of the tools and tool sets it groups:
//
//	review:
//	  description: Tools for code review
//	  icon: eye
//	  tools:
//	    - github/github-mcp-server/get_issue
//	    - fetch
//
// Names are resolved against the registry when the file is loaded. A name
// of a tool set adds all of its current members; unknown names are logged
// and skipped.
package toolsets

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/event"
	"github.com/rhuss/toolgate/pkg/tools/naming"
	"github.com/rhuss/toolgate/pkg/tools/registry"
)

// IDPrefix prefixes the registry id of user tool sets.
const IDPrefix = "user."

// Definition is one entry of the tool sets file.
type Definition struct {
	Description string   `yaml:"description"`
	Icon        string   `yaml:"icon"`
	Tools       []string `yaml:"tools"`
}

// Loader registers the tool sets of one file.
type Loader struct {
	path     string
	reg      *registry.Registry
	resolver *naming.Resolver
	logger   *slog.Logger

	mu      sync.Mutex
	handles []event.Disposable
}

// NewLoader creates a loader for the file at path.
func NewLoader(path string, reg *registry.Registry) *Loader {
	return &Loader{
		path:     path,
		reg:      reg,
		resolver: naming.NewResolver(reg),
		logger:   slog.Default().With("file", path),
	}
}

// Parse decodes a tool sets file.
func Parse(data []byte) (map[string]Definition, error) {
	defs := map[string]Definition{}
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parsing tool sets: %w", err)
	}
	return defs, nil
}

// Load reads the file and replaces the previously loaded tool sets. A
// missing file yields no tool sets.
func (l *Loader) Load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		data, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("reading tool sets: %w", err)
	}
	defs, err := Parse(data)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.disposeLocked()

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if err := l.createLocked(name, defs[name]); err != nil {
			l.disposeLocked()
			return err
		}
	}
	l.logger.Info("loaded user tool sets", "tool_sets", len(names))
	return nil
}

func (l *Loader) createLocked(name string, def Definition) error {
	members := l.resolve(name, def.Tools)

	set, err := l.reg.CreateToolSet(api.UserSource(l.path), IDPrefix+name, name, registry.ToolSetOptions{
		Description: def.Description,
		Icon:        def.Icon,
	})
	if err != nil {
		return fmt.Errorf("tool set %q: %w", name, err)
	}
	l.handles = append(l.handles, set)

	for _, id := range members {
		h, err := set.AddTool(id)
		if err != nil {
			return fmt.Errorf("tool set %q: %w", name, err)
		}
		l.handles = append(l.handles, h)
	}
	return nil
}

// resolve maps qualified names to tool ids, expanding tool sets.
func (l *Loader) resolve(setName string, names []string) []string {
	var ids []string
	add := func(id string) {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, n := range names {
		if t, ok := l.resolver.ToolByQualifiedName(n); ok {
			add(t.ID)
			continue
		}
		if s, ok := l.resolver.ToolSetByQualifiedName(n); ok {
			for _, t := range l.reg.ToolSetMembers(s.ID) {
				add(t.ID)
			}
			continue
		}
		l.logger.Warn("unknown tool in user tool set", "tool_set", setName, "name", n)
	}
	debug.Log("registry", "resolved user tool set", "tool_set", setName, "tools", ids)
	return ids
}

// Close removes the loaded tool sets.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disposeLocked()
}

func (l *Loader) disposeLocked() {
	for i := len(l.handles) - 1; i >= 0; i-- {
		l.handles[i].Dispose()
	}
	l.handles = nil
}
