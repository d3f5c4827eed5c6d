package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
		errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}
	if c.Auth.RateLimit.DefaultRPM < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.default_rpm must be >= 0, got %d", c.Auth.RateLimit.DefaultRPM))
	}

	seen := make(map[string]bool)
	for i, s := range c.MCP.Servers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].url is required", i))
		}
		switch s.Transport {
		case "sse", "streamable-http":
		default:
			errs = append(errs, fmt.Errorf("mcp.servers[%d].transport must be \"sse\" or \"streamable-http\", got %q", i, s.Transport))
		}
		switch s.Auth.Type {
		case "":
		case "oauth_client_credentials":
			if s.Auth.TokenURL == "" {
				errs = append(errs, fmt.Errorf("mcp.servers[%d].auth.token_url is required", i))
			}
		default:
			errs = append(errs, fmt.Errorf("mcp.servers[%d].auth.type must be \"oauth_client_credentials\", got %q", i, s.Auth.Type))
		}
	}

	if c.Builtins.Search.URL != "" && c.Builtins.Search.Backend != "searxng" {
		errs = append(errs, fmt.Errorf("builtins.search.backend must be \"searxng\", got %q", c.Builtins.Search.Backend))
	}

	if c.Invoke.PrepareTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invoke.prepare_timeout must be > 0, got %s", c.Invoke.PrepareTimeout))
	}
	if c.Registry.ChangeDebounce < 0 {
		errs = append(errs, fmt.Errorf("registry.change_debounce must be >= 0, got %s", c.Registry.ChangeDebounce))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
