package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ordomods/ordo/pkg/engine"
	"github.com/ordomods/ordo/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
		status string
		prune  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List reconciliation passes",
		Long: `List the recorded reconciliation passes of the profile, newest first,
with the notifications each pass emitted.

--prune deletes passes older than the given age before listing.`,
		Example: `  # Last 10 passes
  ordo history

  # Failed passes only
  ordo history --status failed

  # Drop passes older than a week
  ordo history --prune 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			filter := stores.PassFilter{Limit: limit, Offset: offset}
			if status != "" {
				filter.Status = engine.PassStatus(status)
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			filter.ProfileID = a.profileID()

			if prune > 0 {
				n, err := a.store.PrunePasses(ctx, time.Now().Add(-prune))
				if err != nil {
					return fmt.Errorf("failed to prune passes: %w", err)
				}
				a.logger.Info().Int64("passes", n).Dur("older_than", prune).Msg("Pruned pass history")
			}

			passes, err := a.store.ListPasses(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list passes: %w", err)
			}

			return render(cmd.OutOrStdout(), passes, func(w io.Writer) {
				if len(passes) == 0 {
					fmt.Fprintln(w, "(no passes recorded)")
					return
				}
				for _, p := range passes {
					fmt.Fprintf(w, "%s  %-10s  %s  inventory v%d  %s\n",
						p.StartedAt.Local().Format("2006-01-02 15:04:05"),
						p.Status, p.ID, p.InventoryVersion,
						p.CompletedAt.Sub(p.StartedAt).Round(time.Millisecond))
					if p.Error != "" {
						fmt.Fprintf(w, "    error: %s\n", p.Error)
					}
					for _, n := range p.Notifications {
						fmt.Fprintf(w, "    %s: %s\n", n.Severity, n.Message)
					}
				}
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of passes")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of passes to skip")
	cmd.Flags().StringVar(&status, "status", "", "only passes with this status")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete passes older than this age first")

	return cmd
}
