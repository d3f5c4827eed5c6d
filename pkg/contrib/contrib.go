// Package contrib registers tools declared by extension manifests.
//
// A manifest declares tool metadata and tool sets. The metadata is
// registered up front so the tools can be named and enabled, while the
// implementation is attached only when the tool is first invoked and the
// invocation service fires the tool's activation event.
package contrib

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/event"
	"github.com/rhuss/toolgate/pkg/invoke"
	"github.com/rhuss/toolgate/pkg/tools/registry"
)

// Contributions holds the registered manifests. It implements
// invoke.Activator.
type Contributions struct {
	reg        *registry.Registry
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	specs     map[string]toolRef
	handles   []event.Disposable
	activated map[string]event.Disposable
}

type toolRef struct {
	extension string
	spec      ToolSpec
}

var _ invoke.Activator = (*Contributions)(nil)

// New creates an empty contribution set. A nil client uses
// http.DefaultClient.
func New(reg *registry.Registry, httpClient *http.Client) *Contributions {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Contributions{
		reg:        reg,
		httpClient: httpClient,
		logger:     slog.Default(),
		specs:      make(map[string]toolRef),
		activated:  make(map[string]event.Disposable),
	}
}

// LoadFiles loads and registers every manifest file.
func (c *Contributions) LoadFiles(paths []string) error {
	for _, p := range paths {
		m, err := LoadManifest(p)
		if err != nil {
			return err
		}
		if err := c.Register(m); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Register registers the tools and tool sets of a manifest.
func (c *Contributions) Register(m *Manifest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range m.Tools {
		data, err := t.toolData(m.Extension)
		if err != nil {
			return err
		}
		h, err := c.reg.RegisterToolData(data)
		if err != nil {
			return fmt.Errorf("tool %q: %w", t.ID, err)
		}
		c.handles = append(c.handles, h)
		c.specs[t.ID] = toolRef{extension: m.Extension, spec: t}
	}

	for _, s := range m.ToolSets {
		set, err := c.reg.CreateToolSet(api.ExtensionSource(m.Extension), s.ID, s.ReferenceName, registry.ToolSetOptions{
			Description:     s.Description,
			Icon:            s.Icon,
			LegacyFullNames: s.LegacyFullNames,
		})
		if err != nil {
			return fmt.Errorf("tool set %q: %w", s.ID, err)
		}
		c.handles = append(c.handles, set)
		for _, id := range s.Tools {
			h, err := set.AddTool(id)
			if err != nil {
				return fmt.Errorf("tool set %q: %w", s.ID, err)
			}
			c.handles = append(c.handles, h)
		}
	}

	c.logger.Info("registered tool contributions",
		"extension", m.Extension,
		"tools", len(m.Tools),
		"tool_sets", len(m.ToolSets),
	)
	return nil
}

// ActivateByEvent attaches the endpoint implementation of the tool named
// by an activation event. Unknown events and tools without endpoint are
// ignored.
func (c *Contributions) ActivateByEvent(_ context.Context, ev string) error {
	id, ok := strings.CutPrefix(ev, invoke.ActivationEvent(""))
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ref, ok := c.specs[id]
	if !ok || ref.spec.Endpoint == "" {
		debug.Log("invoke", "nothing to activate", "event", ev)
		return nil
	}
	if _, done := c.activated[id]; done {
		return nil
	}

	h, err := c.reg.RegisterToolImplementation(id, &endpointTool{
		id:       id,
		endpoint: ref.spec.Endpoint,
		confirm:  ref.spec.Confirm,
		client:   c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("activating %q: %w", id, err)
	}
	c.activated[id] = h
	c.logger.Info("activated contributed tool", "tool", id, "extension", ref.extension)
	return nil
}

// Close unregisters everything registered by c.
func (c *Contributions) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.activated {
		h.Dispose()
	}
	for i := len(c.handles) - 1; i >= 0; i-- {
		c.handles[i].Dispose()
	}
	c.handles = nil
	c.activated = make(map[string]event.Disposable)
	c.specs = make(map[string]toolRef)
}
