// Command toolgate runs the tool invocation service.
//
// Configuration is read from a YAML file (--config, TOOLGATE_CONFIG,
// ./config.yaml or /etc/toolgate/config.yaml) with TOOLGATE_* environment
// overrides:
//
//	TOOLGATE_PORT            - Listen port (default: 8080)
//	TOOLGATE_STORAGE         - Storage type: "memory" or "postgres"
//	TOOLGATE_STORAGE_DSN     - PostgreSQL connection string
//	TOOLGATE_AUTH_TYPE       - "none", "apikey" or "jwt"
//	TOOLGATE_LOG_LEVEL       - ERROR, WARN, INFO, DEBUG or TRACE
//	TOOLGATE_DEBUG           - Comma separated debug categories, or "all"
//	TOOLGATE_USER_TOOLSETS   - Path of the user tool sets file
//	TOOLGATE_PREPARE_TIMEOUT - Prepare duration before a call is reported unresponsive
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("toolgate failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "toolgate",
		Short:         "Language model tool invocation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $TOOLGATE_CONFIG, ./config.yaml, /etc/toolgate/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(namesCmd())
	root.AddCommand(configCmd())
	return root
}
