package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ordomods/ordo/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the module dependency graph in DOT format",
		Long: `Render the installed modules and their dependencies as a Graphviz DOT graph.

Edges point from a dependency to its dependent. Modules caught in a cycle or
depending on a module that is not installed are highlighted, and dangling
dependencies are drawn dashed.`,
		Example: `  # Print the graph
  ordo graph

  # Render to an image
  ordo graph --out deps.dot && dot -Tsvg deps.dot -o deps.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			graph := engine.NewDependencyGraph(file.ModuleRecords())
			res := engine.NewTopologicalSorter(graph).Sort(graph.Nodes(), engine.SortOptions{AllowLocked: true})
			dot := graph.ToDOT(res.Context)

			if outFile == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}
			if err := os.WriteFile(outFile, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("failed to write graph: %w", err)
			}
			log.Info().Str("out", outFile).Int("modules", graph.Len()).Msg("Dependency graph written")
			return nil
		},
	}

	cmd.Flags().StringVar(&outFile, "out", "", "write the graph to a file instead of stdout")

	return cmd
}
