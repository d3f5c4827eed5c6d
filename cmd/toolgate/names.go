package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/toolgate/pkg/config"
	"github.com/rhuss/toolgate/pkg/debug"
)

func namesCmd() *cobra.Command {
	var deprecated, asJSON bool
	cmd := &cobra.Command{
		Use:   "names",
		Short: "Print the qualified names of all registered tools",
		Long: `Connects every configured tool source and prints the names a prompt
can use to reference tools and tool sets. With --deprecated, prints the
legacy names that still resolve together with their current names.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			debug.Init(cfg.Logging.Categories, cfg.Logging.Level, cfg.Logging.Format)

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if deprecated {
				m := make(map[string][]string)
				for legacy, current := range a.resolver.DeprecatedQualifiedToolNames() {
					m[legacy] = slices.Sorted(maps.Keys(current))
				}
				if asJSON {
					return writeJSON(out, m)
				}
				for _, legacy := range slices.Sorted(maps.Keys(m)) {
					fmt.Fprintf(out, "%s -> %s\n", legacy, strings.Join(m[legacy], ", "))
				}
				return nil
			}

			names := a.resolver.QualifiedToolNames()
			if asJSON {
				return writeJSON(out, names)
			}
			for _, n := range names {
				fmt.Fprintln(out, n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deprecated, "deprecated", false, "print deprecated names and their replacements")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
