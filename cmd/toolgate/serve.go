package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/auth/apikey"
	"github.com/rhuss/toolgate/pkg/auth/jwt"
	"github.com/rhuss/toolgate/pkg/config"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/observability"
	"github.com/rhuss/toolgate/pkg/transport"
	transporthttp "github.com/rhuss/toolgate/pkg/transport/http"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			debug.Init(cfg.Logging.Categories, cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			chain, err := authChain(cfg.Auth)
			if err != nil {
				return err
			}

			adapter := transporthttp.NewAdapter(transporthttp.Deps{
				Registry: a.registry,
				Resolver: a.resolver,
				Invoker:  a.invoker,
				Chat:     a.chat,
				Dialogs:  a.dialogs,
				Reload:   a.reload,

				SessionApprovals: a.approvals,
			}, transporthttp.Config{
				InvokeMiddleware: rateLimit(cfg.Auth.RateLimit),
				AdminMiddleware:  []transport.Middleware{auth.RequireScope(auth.ScopeAdmin)},
			})

			opts := []transporthttp.ServerOption{
				transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
				transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
				transporthttp.WithMiddleware(
					observability.MetricsMiddleware,
					auth.Middleware(chain, auth.DefaultBypassEndpoints),
				),
			}
			if cfg.Observability.Metrics.Enabled {
				opts = append(opts, transporthttp.WithHandler("GET "+cfg.Observability.Metrics.Path, promhttp.Handler()))
				slog.Info("metrics enabled", "path", cfg.Observability.Metrics.Path)
			}

			srv := transporthttp.NewServer(adapter, opts...)
			slog.Info("starting toolgate",
				"port", cfg.Server.Port,
				"auth", cfg.Auth.Type,
				"storage", cfg.Storage.Type,
				"tools", countTools(a),
			)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides the configuration)")
	return cmd
}

// authChain builds the authenticator chain for the configured auth type.
func authChain(cfg config.AuthConfig) (*auth.Chain, error) {
	switch cfg.Type {
	case "", "none":
		return &auth.Chain{DefaultDecision: auth.Yes}, nil
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			id := auth.Identity{
				Subject:     k.Subject,
				ServiceTier: k.ServiceTier,
				Scopes:      k.Scopes,
			}
			if k.TenantID != "" {
				id.Metadata = map[string]string{"tenant_id": k.TenantID}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		slog.Info("API key authentication enabled", "keys", len(entries))
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}, nil
	case "jwt":
		slog.Info("JWT authentication enabled", "issuer", cfg.JWT.Issuer)
		return &auth.Chain{
			Authenticators: []auth.Authenticator{jwt.New(jwt.Config{
				Issuer:      cfg.JWT.Issuer,
				Audience:    cfg.JWT.Audience,
				JWKSURL:     cfg.JWT.JWKSURL,
				UserClaim:   cfg.JWT.UserClaim,
				TenantClaim: cfg.JWT.TenantClaim,
				ScopesClaim: cfg.JWT.ScopesClaim,
				CacheTTL:    cfg.JWT.CacheTTL,
			})},
			DefaultDecision: auth.No,
		}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}

// rateLimit returns the invocation middleware, or nil when no limit is
// configured.
func rateLimit(cfg config.RateLimitConfig) []transport.Middleware {
	if cfg.DefaultRPM <= 0 && len(cfg.Tiers) == 0 {
		return nil
	}
	tiers := make(map[string]auth.TierConfig, len(cfg.Tiers))
	for name, rpm := range cfg.Tiers {
		tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
	}
	return []transport.Middleware{auth.RateLimit(auth.NewInProcessLimiter(tiers, cfg.DefaultRPM))}
}

func countTools(a *app) int {
	n := 0
	for range a.registry.GetTools(true) {
		n++
	}
	return n
}
