package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/event"
	"github.com/rhuss/toolgate/pkg/tools/registry"
)

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

// ToolID returns the registry id of an MCP tool.
func ToolID(server, tool string) string {
	return "mcp_" + sanitize(server) + "_" + sanitize(tool)
}

// ToolSetID returns the registry id of a server's tool set.
func ToolSetID(server string) string {
	return "mcp." + sanitize(server)
}

func sanitize(s string) string {
	return invalidNameChars.ReplaceAllString(s, "_")
}

// Source publishes the tools of one MCP server into a registry: a tool set
// with source mcp and one tool per server tool.
type Source struct {
	client *Client
	reg    *registry.Registry
	logger *slog.Logger

	mu      sync.Mutex
	set     *registry.ToolSetHandle
	handles []event.Disposable
}

// NewSource creates a source for a connected client.
func NewSource(reg *registry.Registry, client *Client) *Source {
	return &Source{
		client: client,
		reg:    reg,
		logger: slog.Default().With("mcp_server", client.Name()),
	}
}

// Register lists the server's tools and registers them. Calling it again
// replaces the previous registration.
func (s *Source) Register(ctx context.Context) error {
	list, err := s.client.ListTools(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposeLocked()

	cfg := s.client.cfg
	set, err := s.reg.CreateToolSet(api.MCPSource(cfg.Name), ToolSetID(cfg.Name), cfg.referenceName(), registry.ToolSetOptions{
		Description: cfg.Description,
	})
	if err != nil {
		return fmt.Errorf("creating tool set for %q: %w", cfg.Name, err)
	}
	s.set = set

	for _, t := range list {
		data, err := toolData(cfg, t)
		if err != nil {
			s.logger.Warn("skipping MCP tool", "tool", t.Name, "error", err)
			continue
		}
		h, err := s.reg.RegisterTool(data, &tool{client: s.client, cfg: cfg, tool: t, data: data})
		if err != nil {
			s.logger.Warn("skipping MCP tool", "tool", t.Name, "error", err)
			continue
		}
		s.handles = append(s.handles, h)
		member, err := set.AddTool(data.ID)
		if err != nil {
			return fmt.Errorf("adding %q to tool set: %w", data.ID, err)
		}
		s.handles = append(s.handles, member)
	}

	s.logger.Info("registered MCP tools", "tools", len(list))
	return nil
}

// Reload drops the cached tool list and registers the tools again.
func (s *Source) Reload(ctx context.Context) error {
	s.client.Refresh()
	return s.Register(ctx)
}

// Close unregisters the tools and closes the session.
func (s *Source) Close() error {
	s.mu.Lock()
	s.disposeLocked()
	s.mu.Unlock()
	return s.client.Close()
}

func (s *Source) disposeLocked() {
	for i := len(s.handles) - 1; i >= 0; i-- {
		s.handles[i].Dispose()
	}
	s.handles = nil
	if s.set != nil {
		s.set.Dispose()
		s.set = nil
	}
}

// ConnectAll connects to every configured server concurrently and
// registers its tools. Servers that fail are skipped; their errors are
// joined into the returned error.
func ConnectAll(ctx context.Context, reg *registry.Registry, servers []ServerConfig) ([]*Source, error) {
	sources := make([]*Source, len(servers))
	errs := make([]error, len(servers))

	var g errgroup.Group
	for i, cfg := range servers {
		g.Go(func() error {
			client := NewClient(cfg)
			if err := client.Connect(ctx); err != nil {
				errs[i] = err
				return nil
			}
			src := NewSource(reg, client)
			if err := src.Register(ctx); err != nil {
				_ = client.Close()
				errs[i] = fmt.Errorf("registering tools of %q: %w", cfg.Name, err)
				return nil
			}
			sources[i] = src
			return nil
		})
	}
	_ = g.Wait()

	var connected []*Source
	for _, src := range sources {
		if src != nil {
			connected = append(connected, src)
		}
	}
	return connected, errors.Join(errs...)
}

func toolData(cfg ServerConfig, t *mcp.Tool) (api.ToolData, error) {
	var schema json.RawMessage
	if t.InputSchema != nil {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return api.ToolData{}, fmt.Errorf("marshaling input schema: %w", err)
		}
		schema = b
	}

	display := t.Title
	if display == "" && t.Annotations != nil {
		display = t.Annotations.Title
	}
	if display == "" {
		display = t.Name
	}

	return api.ToolData{
		ID:                      ToolID(cfg.Name, t.Name),
		ToolReferenceName:       sanitize(t.Name),
		DisplayName:             display,
		ModelDescription:        t.Description,
		UserDescription:         t.Description,
		Source:                  api.MCPSource(cfg.Name),
		CanBeReferencedInPrompt: true,
		InputSchema:             schema,
	}, nil
}

// tool is the implementation of one MCP server tool.
type tool struct {
	client *Client
	cfg    ServerConfig
	tool   *mcp.Tool
	data   api.ToolData
}

var (
	_ api.ToolImplementation = (*tool)(nil)
	_ api.ToolPreparer       = (*tool)(nil)
)

func (t *tool) readOnly() bool {
	return t.tool.Annotations != nil && t.tool.Annotations.ReadOnlyHint
}

// PrepareToolInvocation asks for confirmation unless the server annotates
// the tool as read-only. The input is shown for editing.
func (t *tool) PrepareToolInvocation(_ context.Context, pctx api.PrepareContext) (*api.PreparedInvocation, error) {
	p := &api.PreparedInvocation{
		InvocationMessage: fmt.Sprintf("Running %s", t.data.DisplayName),
		PastTenseMessage:  fmt.Sprintf("Ran %s", t.data.DisplayName),
		OriginMessage:     fmt.Sprintf("from MCP server %s", t.cfg.Name),
	}
	if t.readOnly() && !t.cfg.ConfirmReadOnly {
		return p, nil
	}
	p.ConfirmationMessages = &api.ConfirmationMessages{
		Title:   fmt.Sprintf("Run %s", t.data.DisplayName),
		Message: t.tool.Description,
	}
	p.ToolSpecificData = &api.ToolSpecificData{
		Kind:     api.ToolDataKindInput,
		RawInput: pctx.Parameters,
	}
	return p, nil
}

// Invoke calls the tool on the server. A result flagged as an error by the
// server is returned as a tool result error, not a Go error.
func (t *tool) Invoke(ctx context.Context, inv *api.Invocation, _ api.CountTokensFunc, progress api.ProgressReporter) (*api.ToolResult, error) {
	progress.Report(api.ProgressStep{Message: fmt.Sprintf("Calling %s on %s", t.tool.Name, t.cfg.Name)})
	debug.Log("mcp", "calling tool", "server", t.cfg.Name, "tool", t.tool.Name, "call_id", inv.CallID)

	res, err := t.client.CallTool(ctx, t.tool.Name, inv.Parameters)
	if err != nil {
		return nil, err
	}

	out := &api.ToolResult{Content: convertContent(res)}
	if res.IsError {
		out.ToolResultError = errorText(out.Content)
	}
	return out, nil
}

// convertContent maps MCP content to result parts. Structured content is
// appended as JSON text when the server sent no text part.
func convertContent(res *mcp.CallToolResult) []api.ContentPart {
	parts := []api.ContentPart{}
	hasText := false
	for _, c := range res.Content {
		switch c := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, api.TextPart(c.Text))
			hasText = true
		case *mcp.ImageContent:
			parts = append(parts, api.DataPart(c.MIMEType, c.Data))
		case *mcp.AudioContent:
			parts = append(parts, api.DataPart(c.MIMEType, c.Data))
		case *mcp.EmbeddedResource:
			if c.Resource == nil {
				continue
			}
			if c.Resource.Blob != nil {
				parts = append(parts, api.DataPart(c.Resource.MIMEType, c.Resource.Blob))
			} else {
				parts = append(parts, api.TextPart(c.Resource.Text))
				hasText = true
			}
		case *mcp.ResourceLink:
			parts = append(parts, api.TextPart(fmt.Sprintf("Resource: %s (%s)", c.Name, c.URI)))
			hasText = true
		default:
			debug.Log("mcp", "dropping unsupported content", "type", fmt.Sprintf("%T", c))
		}
	}
	if res.StructuredContent != nil && !hasText {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, api.TextPart(string(b)))
		}
	}
	return parts
}

func errorText(parts []api.ContentPart) string {
	for _, p := range parts {
		if p.Kind == api.ContentText && p.Text != "" {
			return p.Text
		}
	}
	return "MCP tool reported an error"
}
