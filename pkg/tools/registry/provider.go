// Package registry owns tool metadata, tool implementations and tool-set
// membership.
//
// Tools are registered as data first ([Registry.RegisterToolData]) and get
// an implementation attached later ([Registry.RegisterToolImplementation]),
// or both at once. A [Provider] contributes a group of tools registered
// together, which is how built-in tools are installed.
package registry

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/event"
)

// Tool pairs metadata with its implementation.
type Tool struct {
	Data api.ToolData
	Impl api.ToolImplementation
}

// Provider is a pluggable group of tools.
type Provider interface {
	// Name returns a unique identifier for this provider (e.g., "web").
	Name() string

	// Tools returns the tools this provider contributes.
	Tools() []Tool
}

// RegisterProvider registers every tool of p. Registration is all or
// nothing: if one tool fails, the tools already registered are removed.
func (r *Registry) RegisterProvider(p Provider) (event.Disposable, error) {
	var handles []event.Disposable
	rollback := func() {
		for _, h := range slices.Backward(handles) {
			h.Dispose()
		}
	}

	for _, t := range p.Tools() {
		h, err := r.RegisterTool(t.Data, t.Impl)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("provider %q: %w", p.Name(), err)
		}
		handles = append(handles, h)
	}

	slog.Info("registered tool provider",
		"provider", p.Name(),
		"tools", len(handles),
	)
	return event.DisposeFunc(rollback), nil
}
