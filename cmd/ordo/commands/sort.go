package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ordomods/ordo/pkg/engine"
)

// sortPreview is the outcome of ordo sort.
type sortPreview struct {
	Profile  string                   `json:"profile" yaml:"profile"`
	Order    engine.PresentationOrder `json:"order" yaml:"order"`
	Excluded []engine.ModuleID        `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	Saved    bool                     `json:"saved" yaml:"saved"`
}

func newSortCommand() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "sort",
		Short: "Sort the persisted load order by declared dependencies",
		Long: `Sort the profile's persisted order using only declared dependencies,
without consulting the normalizer or policies.

Locked modules keep their position. Modules with a cyclic or missing
dependency move to the end and are marked invalid. Installed modules that are
not yet in the persisted order are appended, enabled.`,
		Example: `  # Preview the dependency sort
  ordo sort

  # Persist the sorted order
  ordo sort --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			order, err := currentOrder(cmd, a, true)
			if err != nil {
				return err
			}

			sorted, rc := engine.Presort(order)
			preview := sortPreview{
				Profile:  a.profileID(),
				Order:    sorted,
				Excluded: rc.Excluded(),
			}
			a.tel.Metrics.RecordExclusions("dependency", len(preview.Excluded))

			if save {
				if err := a.store.SavePersistedOrder(ctx, a.profileID(), engine.PresentationToPersisted(sorted)); err != nil {
					return fmt.Errorf("failed to save order: %w", err)
				}
				preview.Saved = true
			}

			return render(cmd.OutOrStdout(), preview, func(w io.Writer) {
				printOrder(w, preview.Order)
				if preview.Saved {
					fmt.Fprintln(w, "\n✓ Order saved")
				}
			})
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "persist the sorted order")

	return cmd
}

// currentOrder builds the presentation of the persisted order against the
// installed modules. With appendNew, installed modules missing from the
// order are appended.
func currentOrder(cmd *cobra.Command, a *app, appendNew bool) (engine.PresentationOrder, error) {
	ctx := cmd.Context()

	persisted, err := a.store.LoadPersistedOrder(ctx, a.profileID())
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	available, err := a.inventory.GetAvailableModules(ctx)
	if err != nil {
		return nil, err
	}
	modules := engine.IndexModules(available)

	if appendNew {
		persisted = appendInstalled(persisted, available)
	}

	canonical := engine.PersistedToCanonical(persisted, modules)
	return engine.CanonicalToPresentation(canonical, modules), nil
}
