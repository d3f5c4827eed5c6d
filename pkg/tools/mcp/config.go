package mcp

// Config holds the configuration for all MCP server connections.
type Config struct {
	// Servers is the list of MCP server configurations to connect to.
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig describes a single MCP server connection.
type ServerConfig struct {
	// Name is the logical name for this server. It is the server label of
	// every tool the server contributes and part of their tool ids.
	Name string `yaml:"name"`

	// ReferenceName is the tool set reference name, e.g.
	// "github/github-mcp-server". Defaults to Name.
	ReferenceName string `yaml:"reference_name"`

	// Description of the tool set shown to users.
	Description string `yaml:"description"`

	// Transport is the transport type to use: "sse" or "streamable-http".
	// If empty, defaults to "streamable-http".
	Transport string `yaml:"transport"`

	// URL is the MCP server endpoint URL.
	URL string `yaml:"url"`

	// Headers contains additional HTTP headers to send with requests,
	// typically used for authentication (API keys, bearer tokens, etc.).
	Headers map[string]string `yaml:"headers,omitempty"`

	Auth AuthConfig `yaml:"auth"`

	// ConfirmReadOnly asks for confirmation even for tools annotated as
	// read-only.
	ConfirmReadOnly bool `yaml:"confirm_read_only"`
}

// AuthConfig configures how requests to an MCP server are authenticated.
type AuthConfig struct {
	// Type is "" (static headers only) or "oauth_client_credentials".
	Type         string   `yaml:"type"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// referenceName returns the tool set reference name.
func (c ServerConfig) referenceName() string {
	if c.ReferenceName != "" {
		return c.ReferenceName
	}
	return c.Name
}
