package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client wraps an MCP SDK Client and ClientSession for a single MCP
// server connection.
type Client struct {
	cfg     ServerConfig
	client  *mcp.Client
	session *mcp.ClientSession

	mu          sync.Mutex
	cachedTools []*mcp.Tool
}

// NewClient creates a new Client for the given server configuration.
// Call Connect to establish the connection.
func NewClient(cfg ServerConfig) *Client {
	return &Client{cfg: cfg}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.cfg.Name }

// Connect establishes the MCP connection to the server, performing the
// protocol handshake.
func (c *Client) Connect(ctx context.Context) error {
	return c.ConnectWithTransport(ctx, nil)
}

// ConnectWithTransport establishes the MCP connection using the given
// transport. If transport is nil, a transport is created from the
// server configuration.
func (c *Client) ConnectWithTransport(ctx context.Context, transport mcp.Transport) error {
	c.client = mcp.NewClient(
		&mcp.Implementation{
			Name:    "toolgate",
			Version: "1.0.0",
		},
		&mcp.ClientOptions{
			Capabilities: &mcp.ClientCapabilities{},
		},
	)

	if transport == nil {
		t, err := c.createTransport()
		if err != nil {
			return fmt.Errorf("creating transport for %q: %w", c.cfg.Name, err)
		}
		transport = t
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting to MCP server %q: %w", c.cfg.Name, err)
	}
	c.session = session
	return nil
}

// createTransport creates an MCP transport based on the server configuration.
func (c *Client) createTransport() (mcp.Transport, error) {
	httpClient, err := buildHTTPClient(c.cfg)
	if err != nil {
		return nil, err
	}

	switch c.cfg.Transport {
	case "sse":
		return &mcp.SSEClientTransport{
			Endpoint:   c.cfg.URL,
			HTTPClient: httpClient,
		}, nil

	case "streamable-http", "":
		return &mcp.StreamableClientTransport{
			Endpoint:   c.cfg.URL,
			HTTPClient: httpClient,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported transport type %q", c.cfg.Transport)
	}
}

// ListTools returns the server's tools. The list is fetched once and
// cached until Refresh is called.
func (c *Client) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedTools != nil {
		return c.cachedTools, nil
	}
	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	list := []*mcp.Tool{}
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.Name, err)
		}
		list = append(list, tool)
	}
	c.cachedTools = list
	return list, nil
}

// Refresh drops the cached tool list.
func (c *Client) Refresh() {
	c.mu.Lock()
	c.cachedTools = nil
	c.mu.Unlock()
}

// CallTool executes a tool call on the MCP server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}
	params := &mcp.CallToolParams{Name: name}
	if args != nil {
		params.Arguments = args
	}
	result, err := c.session.CallTool(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("calling %q on %q: %w", name, c.cfg.Name, err)
	}
	return result, nil
}

// Close closes the MCP session.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
