package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPaths  []string
	verbose      bool
	jsonOutput   bool
	outputFormat string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "ordo",
		Short: "ordo - module load order resolution engine",
		Long: `ordo keeps a profile's module load order consistent with the installed
modules and their declared dependencies.

Features:
  - Module inventory and settings declared in CUE
  - Dependency-aware topological sorting with pinned modules
  - Pluggable normalizers: built-in, Starlark scripts, WASM plugins
  - Rego policies for order and cross-module validation
  - Serialized reconciliation passes with persisted history`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				outputFormat = formatJSON
			}
			switch outputFormat {
			case formatText, formatJSON, formatYAML:
				return nil
			default:
				return fmt.Errorf("unsupported output format %q", outputFormat)
			}
		},
	}

	rootCmd.PersistentFlags().StringSliceVarP(&configPaths, "config", "c", []string{"ordo.cue"}, "configuration files or directories")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatText, "output format (text, json, yaml)")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newSortCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
