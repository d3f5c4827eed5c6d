package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file when no explicit path is given.
const EnvConfigPath = "TOOLGATE_CONFIG"

// searchPaths are tried in order when neither an explicit path nor
// TOOLGATE_CONFIG is set.
var searchPaths = []string{"config.yaml", "/etc/toolgate/config.yaml"}

// Load builds the configuration: defaults, then the YAML file, then
// TOOLGATE_* environment variables, then *_file secret references. The
// result is validated before it is returned.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := findConfigFile(configPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	for _, b := range envBindings {
		v := os.Getenv(b.name)
		if v == "" {
			continue
		}
		if err := b.apply(&cfg, v); err != nil {
			return nil, fmt.Errorf("applying environment: %s: %w", b.name, err)
		}
	}

	if err := cfg.resolveSecretFiles(); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// findConfigFile returns "" when nothing is configured and no search path
// exists. An explicit path is returned even if it is missing so that Load
// reports it.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

type envBinding struct {
	name  string
	apply func(cfg *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

var envBindings = []envBinding{
	{"TOOLGATE_PORT", func(cfg *Config, v string) error {
		port, err := strconv.Atoi(v)
		cfg.Server.Port = port
		return err
	}},
	{"TOOLGATE_STORAGE", setString(func(c *Config) *string { return &c.Storage.Type })},
	{"TOOLGATE_STORAGE_DSN", setString(func(c *Config) *string { return &c.Storage.Postgres.DSN })},
	{"TOOLGATE_AUTH_TYPE", setString(func(c *Config) *string { return &c.Auth.Type })},
	{"TOOLGATE_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"TOOLGATE_DEBUG", setString(func(c *Config) *string { return &c.Logging.Categories })},
	{"TOOLGATE_USER_TOOLSETS", setString(func(c *Config) *string { return &c.ToolSets.UserFile })},
	{"TOOLGATE_PREPARE_TIMEOUT", func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		cfg.Invoke.PrepareTimeout = d
		return err
	}},
	{"TOOLGATE_API_KEYS", func(cfg *Config, v string) error {
		if err := json.Unmarshal([]byte(v), &cfg.Auth.APIKeys); err != nil {
			return fmt.Errorf("parsing API keys JSON: %w", err)
		}
		return nil
	}},
	{"TOOLGATE_MCP_SERVERS", func(cfg *Config, v string) error {
		if err := json.Unmarshal([]byte(v), &cfg.MCP.Servers); err != nil {
			return fmt.Errorf("parsing MCP servers JSON: %w", err)
		}
		return nil
	}},
}

// resolveSecretFiles fills secrets from their *_file companions. Inline
// values win.
func (c *Config) resolveSecretFiles() error {
	var errs []error
	readInto := func(dst *string, path, field string) {
		if path == "" || *dst != "" {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = strings.TrimSpace(string(data))
	}

	readInto(&c.Storage.Postgres.DSN, c.Storage.Postgres.DSNFile, "storage.postgres.dsn_file")
	for i := range c.Auth.APIKeys {
		k := &c.Auth.APIKeys[i]
		readInto(&k.Key, k.KeyFile, fmt.Sprintf("auth.api_keys[%d].key_file", i))
	}
	for i := range c.MCP.Servers {
		a := &c.MCP.Servers[i].Auth
		readInto(&a.ClientID, a.ClientIDFile, fmt.Sprintf("mcp.servers[%d].auth.client_id_file", i))
		readInto(&a.ClientSecret, a.ClientSecretFile, fmt.Sprintf("mcp.servers[%d].auth.client_secret_file", i))
	}
	return errors.Join(errs...)
}
