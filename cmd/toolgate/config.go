package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rhuss/toolgate/pkg/config"
)

const redacted = "<redacted>"

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(cfgFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			redact(cfg)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})
	return cmd
}

// redact blanks credentials, including those resolved from _file fields.
func redact(cfg *config.Config) {
	if cfg.Storage.Postgres.DSN != "" {
		cfg.Storage.Postgres.DSN = redacted
	}
	for i := range cfg.Auth.APIKeys {
		cfg.Auth.APIKeys[i].Key = redacted
	}
	for i := range cfg.MCP.Servers {
		s := &cfg.MCP.Servers[i]
		if s.Auth.ClientSecret != "" {
			s.Auth.ClientSecret = redacted
		}
		for k := range s.Headers {
			if strings.EqualFold(k, "authorization") || strings.Contains(strings.ToLower(k), "token") {
				s.Headers[k] = redacted
			}
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
