package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/toolgate/pkg/chat"
	"github.com/rhuss/toolgate/pkg/config"
	"github.com/rhuss/toolgate/pkg/contrib"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/dialog"
	"github.com/rhuss/toolgate/pkg/invoke"
	"github.com/rhuss/toolgate/pkg/observability"
	"github.com/rhuss/toolgate/pkg/policy"
	"github.com/rhuss/toolgate/pkg/settings"
	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/storage/memory"
	"github.com/rhuss/toolgate/pkg/storage/postgres"
	"github.com/rhuss/toolgate/pkg/toolsets"
	"github.com/rhuss/toolgate/pkg/tools/builtins"
	"github.com/rhuss/toolgate/pkg/tools/mcp"
	"github.com/rhuss/toolgate/pkg/tools/naming"
	"github.com/rhuss/toolgate/pkg/tools/registry"
	"github.com/rhuss/toolgate/pkg/tracker"
	"github.com/rhuss/toolgate/pkg/when"
)

// app holds the assembled services of one process.
type app struct {
	kv        storage.KVStore
	settings  *settings.Store
	registry  *registry.Registry
	resolver  *naming.Resolver
	contrib   *contrib.Contributions
	userSets  *toolsets.Loader
	mcp       []*mcp.Source
	chat      *chat.Service
	dialogs   *dialog.Broker
	approvals *policy.SessionAllowList
	invoker   *invoke.Service
}

// newApp opens storage, registers every tool source and wires the
// orchestrator. MCP servers that cannot be reached are skipped with a
// warning.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	kv, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.kv = kv

	a.settings, err = settings.New(
		settings.WithLayerFile(settings.TargetApplication, cfg.Settings.Application),
		settings.WithLayerFile(settings.TargetUserLocal, cfg.Settings.UserLocal),
		settings.WithLayerFile(settings.TargetUserRemote, cfg.Settings.UserRemote),
		settings.WithLayerFile(settings.TargetWorkspace, cfg.Settings.Workspace),
		settings.WithLayerFile(settings.TargetWorkspaceFolder, cfg.Settings.WorkspaceFolder),
		settings.WithDefaults(defaultSettings(cfg.Settings.Defaults)),
	)
	if err != nil {
		return nil, err
	}

	a.registry = registry.New(when.NewContext(nil),
		registry.WithChangeDelay(cfg.Registry.ChangeDebounce),
		registry.WithExtensionToolsEnabled(cfg.Contributions.ExtensionToolsEnabled),
	)
	var builtinOpts []builtins.Option
	if search := cfg.Builtins.Search; search.URL != "" {
		builtinOpts = append(builtinOpts, builtins.WithWebSearch(
			builtins.NewSearXNG(search.URL, &http.Client{Timeout: cfg.Builtins.Fetch.Timeout}),
			search.MaxResults,
		))
	}
	if _, err := a.registry.RegisterProvider(builtins.New(builtins.FetchConfig{
		TrustedHosts: cfg.Builtins.Fetch.TrustedHosts,
		MaxBytes:     cfg.Builtins.Fetch.MaxBytes,
		Timeout:      cfg.Builtins.Fetch.Timeout,
	}, builtinOpts...)); err != nil {
		return nil, fmt.Errorf("registering built-in tools: %w", err)
	}

	a.contrib = contrib.New(a.registry, &http.Client{Timeout: cfg.Server.WriteTimeout})
	if err := a.contrib.LoadFiles(cfg.Contributions.Manifests); err != nil {
		return nil, err
	}

	sources, err := mcp.ConnectAll(ctx, a.registry, mcpServers(cfg.MCP.Servers))
	if err != nil {
		slog.Warn("some MCP servers are unavailable", "error", err)
	}
	a.mcp = sources

	// User tool sets name tools by qualified name, so they load last.
	if cfg.ToolSets.UserFile != "" {
		a.userSets = toolsets.NewLoader(cfg.ToolSets.UserFile, a.registry)
		if err := a.userSets.Load(); err != nil {
			return nil, err
		}
	}
	a.registry.FlushChanges()

	a.resolver = naming.NewResolver(a.registry)
	a.chat = chat.NewService()
	a.dialogs = dialog.NewBroker()

	a.approvals = policy.NewSessionAllowList()
	overrides := policy.NewOverrideSet()
	overrides.Register(a.approvals.Override())

	engine := policy.New(policy.Deps{
		Tools:     a.registry,
		Settings:  a.settings,
		KV:        a.kv,
		Prompter:  a.dialogs,
		Overrides: overrides,
	})
	a.invoker = invoke.New(invoke.Deps{
		Tools:          a.registry,
		Policy:         engine,
		Activator:      a.contrib,
		Chat:           a.chat,
		Dialogs:        a.dialogs,
		Signals:        observability.NewSignalLogger(nil),
		Telemetry:      observability.NewTelemetry(nil),
		Tracker:        tracker.New(),
		PrepareTimeout: cfg.Invoke.PrepareTimeout,
	})

	ok = true
	return a, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.KVStore, error) {
	switch cfg.Type {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres")
		return s, nil
	default:
		slog.Info("storage enabled", "type", "memory")
		return memory.New(), nil
	}
}

// defaultSettings returns the built-in setting defaults overlaid with the
// configured ones.
func defaultSettings(configured map[string]any) map[string]any {
	defaults := map[string]any{
		policy.SettingGlobalAutoApprove:     false,
		policy.SettingScreenReaderOptimized: false,
		policy.SettingUserActionRequiredSignal: map[string]any{
			"sound":        "auto",
			"announcement": "auto",
		},
	}
	maps.Copy(defaults, configured)
	return defaults
}

func mcpServers(servers []config.MCPServerConfig) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(servers))
	for _, s := range servers {
		out = append(out, mcp.ServerConfig{
			Name:          s.Name,
			ReferenceName: s.ReferenceName,
			Description:   s.Description,
			Transport:     s.Transport,
			URL:           s.URL,
			Headers:       s.Headers,
			Auth: mcp.AuthConfig{
				Type:         s.Auth.Type,
				TokenURL:     s.Auth.TokenURL,
				ClientID:     s.Auth.ClientID,
				ClientSecret: s.Auth.ClientSecret,
				Scopes:       s.Auth.Scopes,
			},
			ConfirmReadOnly: s.ConfirmReadOnly,
		})
	}
	return out
}

// reload lists the tools of every MCP server again, then reloads the user
// tool sets that may reference them.
func (a *app) reload(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range a.mcp {
		g.Go(func() error { return src.Reload(gctx) })
	}
	err := g.Wait()
	if a.userSets != nil {
		err = errors.Join(err, a.userSets.Load())
	}
	a.registry.FlushChanges()
	debug.Log("registry", "tools reloaded", "error", err)
	return err
}

// Close releases everything newApp acquired, in reverse order.
func (a *app) Close() {
	if a.userSets != nil {
		a.userSets.Close()
	}
	for _, src := range a.mcp {
		if err := src.Close(); err != nil {
			slog.Warn("closing MCP session", "error", err)
		}
	}
	if a.contrib != nil {
		a.contrib.Close()
	}
	if a.registry != nil {
		a.registry.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			slog.Warn("closing store", "error", err)
		}
	}
}
