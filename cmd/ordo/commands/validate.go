package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ordomods/ordo/pkg/config"
	"github.com/ordomods/ordo/pkg/engine"
)

// validationReport is the outcome of ordo validate.
type validationReport struct {
	Valid    bool                     `json:"valid" yaml:"valid"`
	Sources  []string                 `json:"sources" yaml:"sources"`
	Modules  int                      `json:"modules" yaml:"modules"`
	Errors   []config.ValidationError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []config.ValidationError `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Findings []string                 `json:"findings,omitempty" yaml:"findings,omitempty"`
	Excluded []engine.ModuleID        `json:"excluded,omitempty" yaml:"excluded,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and module dependencies",
		Long: `Validate the configuration against its schema, then check the declared
modules.

This command checks:
  - CUE syntax and schema conformance
  - Duplicate module ids and unknown dependencies
  - Dependency cycles and dependencies that are not installed
  - Order policies (built-in and custom Rego) over the declared module order`,
		Example: `  # Validate ordo.cue
  ordo validate

  # Treat warnings and policy findings as failures
  ordo validate --strict -c ./config`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log.Info().Strs("config", configPaths).Bool("strict", strict).Msg("Validating configuration")

			file, err := config.NewLoader().LoadFile(ctx, configPaths...)
			if err != nil {
				return err
			}

			report := validationReport{
				Sources:  file.SourceFiles,
				Modules:  len(file.Modules),
				Warnings: file.Warnings(),
			}
			for _, e := range file.Errors {
				if e.Severity != config.SeverityWarning {
					report.Errors = append(report.Errors, e)
				}
			}

			if len(report.Errors) == 0 {
				records := file.ModuleRecords()

				graph := engine.NewDependencyGraph(records)
				res := engine.NewTopologicalSorter(graph).Sort(graph.Nodes(), engine.SortOptions{AllowLocked: true})
				report.Excluded = res.Context.Excluded()

				pe, err := newPolicyEngine(ctx, file.Settings, nil, log.Logger)
				if err != nil {
					return err
				}
				findings, err := pe.ValidateOrder(ctx, records)
				if err != nil {
					return err
				}
				report.Findings = findings
			}

			report.Valid = len(report.Errors) == 0 && len(report.Excluded) == 0
			if strict {
				report.Valid = report.Valid && len(report.Warnings) == 0 && len(report.Findings) == 0
			}

			if err := render(cmd.OutOrStdout(), report, func(w io.Writer) { printValidation(w, report) }); err != nil {
				return err
			}
			if !report.Valid {
				return errors.New("validation failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail on warnings and policy findings")

	return cmd
}

func printValidation(w io.Writer, r validationReport) {
	fmt.Fprintf(w, "Checked %d modules from %d source files\n", r.Modules, len(r.Sources))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "✗ %s\n", e.Error())
	}
	for _, e := range r.Warnings {
		fmt.Fprintf(w, "! %s\n", e.Error())
	}
	for _, id := range r.Excluded {
		fmt.Fprintf(w, "✗ %s has a cyclic or missing dependency\n", id)
	}
	for _, f := range r.Findings {
		fmt.Fprintf(w, "! %s\n", f)
	}
	if r.Valid {
		fmt.Fprintln(w, "✓ Configuration is valid")
	}
}
