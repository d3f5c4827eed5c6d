// Package config provides unified configuration for the toolgate server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (TOOLGATE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
//
// The per-user tool settings (auto approval, eligibility, alerts) are not
// part of this file. They live in the layered settings files listed under
// settings.
package config

import "time"

// Config holds all configuration for the toolgate server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Settings      SettingsConfig      `yaml:"settings"`
	ToolSets      ToolSetsConfig      `yaml:"toolsets"`
	Contributions ContributionsConfig `yaml:"contributions"`
	Builtins      BuiltinsConfig      `yaml:"builtins"`
	Invoke        InvokeConfig        `yaml:"invoke"`
	Registry      RegistryConfig      `yaml:"registry"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig controls slog output and debug categories.
type LoggingConfig struct {
	Level      string `yaml:"level"`      // ERROR, WARN, INFO, DEBUG, TRACE; default: INFO
	Format     string `yaml:"format"`     // "text" or "json", default: "text"
	Categories string `yaml:"categories"` // comma separated debug categories
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 120s; event streams clear it
}

// StorageConfig selects the key-value store backing machine and
// workspace scoped state such as the global auto-approve opt-in.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings of the control API.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey", "jwt"; default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string   `yaml:"subject" json:"subject"`
	TenantID    string   `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"` // e.g. "tools:admin"
}

// JWTConfig configures bearer token validation for type=jwt.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim"`   // default: "sub"
	TenantClaim string        `yaml:"tenant_claim"` // optional
	ScopesClaim string        `yaml:"scopes_claim"` // default: "scope"
	CacheTTL    time.Duration `yaml:"cache_ttl"`    // default: 1h
}

// RateLimitConfig limits invocation requests per caller. A zero
// DefaultRPM disables rate limiting.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm"`
	Tiers      map[string]int `yaml:"tiers"` // service tier -> requests per minute
}

// MCPConfig holds MCP (Model Context Protocol) server settings.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes a single MCP server connection.
type MCPServerConfig struct {
	Name            string            `yaml:"name" json:"name"`
	ReferenceName   string            `yaml:"reference_name" json:"reference_name"`
	Description     string            `yaml:"description" json:"description"`
	Transport       string            `yaml:"transport" json:"transport"` // "sse" or "streamable-http"
	URL             string            `yaml:"url" json:"url"`
	Headers         map[string]string `yaml:"headers" json:"headers"`
	Auth            MCPAuthConfig     `yaml:"auth" json:"auth"`
	ConfirmReadOnly bool              `yaml:"confirm_read_only" json:"confirm_read_only"`
}

// MCPAuthConfig configures OAuth client credentials for an MCP server.
type MCPAuthConfig struct {
	Type             string   `yaml:"type" json:"type"` // "" or "oauth_client_credentials"
	TokenURL         string   `yaml:"token_url" json:"token_url"`
	ClientID         string   `yaml:"client_id" json:"client_id"`
	ClientIDFile     string   `yaml:"client_id_file" json:"client_id_file"`
	ClientSecret     string   `yaml:"client_secret" json:"client_secret"`
	ClientSecretFile string   `yaml:"client_secret_file" json:"client_secret_file"`
	Scopes           []string `yaml:"scopes" json:"scopes"`
}

// SettingsConfig lists the YAML files backing the settings layers. Empty
// paths leave a layer in memory only.
type SettingsConfig struct {
	Application     string         `yaml:"application"`
	UserLocal       string         `yaml:"user_local"`
	UserRemote      string         `yaml:"user_remote"`
	Workspace       string         `yaml:"workspace"`
	WorkspaceFolder string         `yaml:"workspace_folder"`
	Defaults        map[string]any `yaml:"defaults"`
}

// ToolSetsConfig locates the user tool sets file.
type ToolSetsConfig struct {
	UserFile string `yaml:"user_file"`
}

// ContributionsConfig lists the extension manifests to load.
type ContributionsConfig struct {
	Manifests []string `yaml:"manifests"`

	// ExtensionToolsEnabled is the initial state of the extension tools
	// switch. Default: true.
	ExtensionToolsEnabled bool `yaml:"extension_tools_enabled"`
}

// BuiltinsConfig configures the built-in tools.
type BuiltinsConfig struct {
	Fetch  FetchConfig  `yaml:"fetch"`
	Search SearchConfig `yaml:"search"`
}

// FetchConfig configures the web page fetch tool.
type FetchConfig struct {
	TrustedHosts []string      `yaml:"trusted_hosts"`
	MaxBytes     int64         `yaml:"max_bytes"` // default: 1 MiB
	Timeout      time.Duration `yaml:"timeout"`   // default: 30s
}

// SearchConfig configures the web search tool. The tool is registered
// only when URL is set.
type SearchConfig struct {
	Backend    string `yaml:"backend"`     // "searxng"; default: "searxng"
	URL        string `yaml:"url"`         // base URL of the search instance
	MaxResults int    `yaml:"max_results"` // default: 5
}

// InvokeConfig configures the invocation service.
type InvokeConfig struct {
	PrepareTimeout time.Duration `yaml:"prepare_timeout"` // default: 3s
}

// RegistryConfig configures the tool registry.
type RegistryConfig struct {
	ChangeDebounce time.Duration `yaml:"change_debounce"` // default: 750ms
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
			JWT: JWTConfig{
				UserClaim:   "sub",
				ScopesClaim: "scope",
				CacheTTL:    time.Hour,
			},
		},
		Contributions: ContributionsConfig{
			ExtensionToolsEnabled: true,
		},
		Builtins: BuiltinsConfig{
			Fetch: FetchConfig{
				MaxBytes: 1 << 20,
				Timeout:  30 * time.Second,
			},
			Search: SearchConfig{
				Backend:    "searxng",
				MaxResults: 5,
			},
		},
		Invoke: InvokeConfig{
			PrepareTimeout: 3 * time.Second,
		},
		Registry: RegistryConfig{
			ChangeDebounce: 750 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
