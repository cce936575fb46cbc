package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ordomods/ordo/pkg/engine"
)

func newReconcileCommand() *cobra.Command {
	var (
		sessionID  string
		manual     bool
		launchPath string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile the persisted load order with the installed modules",
		Long: `Run one reconciliation pass for the configured profile.

The pass:
  - Loads the persisted order and drops modules that are no longer installed
  - Validates the enabled modules against order policies
  - Asks the normalizer for the corrected order
  - Annotates every entry with cross-module validity
  - Persists the result and records the pass in the history

The first successful pass of a session hands the order to the launcher.`,
		Example: `  # Reconcile and print the resulting order
  ordo reconcile

  # Keep the current order, only dropping unusable modules
  ordo reconcile --manual

  # Write the launch order for the host
  ordo reconcile --launch-file launch.yaml -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts := appOptions{scheduler: true, sessionID: sessionID}
			if manual {
				opts.sortMode = engine.SortModeManual
			}
			opts.launcher = &fileLauncher{path: launchPath, logger: log.Logger}

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.Close(shutdownCtx)
			}()

			op := a.tel.WithContext(ctx)
			result, err := a.scheduler.Reconcile(op, a.profileID())
			if err != nil {
				a.tel.Metrics.RecordError(err)
				return err
			}

			return render(cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "Profile %s: pass %s %s in %s\n\n",
					result.Session.ProfileID, result.PassID, result.Status, result.Duration.Round(time.Millisecond))
				printOrder(w, result.Order)
				if len(result.Notifications) > 0 {
					fmt.Fprintln(w)
					printNotifications(w, result.Notifications)
				}
				if result.Report != nil {
					fmt.Fprintln(w)
					fmt.Fprintln(w, result.Report.String())
				}
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "host session id (generated when empty)")
	cmd.Flags().BoolVar(&manual, "manual", false, "keep the current order instead of adopting the normalizer's")
	cmd.Flags().StringVar(&launchPath, "launch-file", "", "write the launch order to this YAML file")

	return cmd
}
