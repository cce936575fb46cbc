package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ordomods/ordo/pkg/engine"
	"github.com/ordomods/ordo/pkg/stores"
)

// profileView is the outcome of ordo show.
type profileView struct {
	Profile       *stores.Profile              `json:"profile" yaml:"profile"`
	Order         engine.PresentationOrder     `json:"order" yaml:"order"`
	Notifications []*stores.NotificationRecord `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}

func newShowCommand() *cobra.Command {
	var notes int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the persisted load order of the profile",
		Long: `Show the profile's persisted load order resolved against the installed
modules, together with its most recent notifications. Modules that are no
longer installed are not shown.`,
		Example: `  # Show the order
  ordo show

  # Show the order with the last 20 notifications as YAML
  ordo show --notifications 20 -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			view := profileView{}
			view.Profile, err = a.store.GetProfile(ctx, a.profileID())
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("profile %s has no stored order, run 'ordo reconcile' first", a.profileID())
			}
			if err != nil {
				return fmt.Errorf("failed to load profile: %w", err)
			}

			view.Order, err = currentOrder(cmd, a, false)
			if err != nil {
				return err
			}

			if notes > 0 {
				view.Notifications, err = a.store.ListNotifications(ctx, a.profileID(), notes)
				if err != nil {
					return fmt.Errorf("failed to list notifications: %w", err)
				}
			}

			return render(cmd.OutOrStdout(), view, func(w io.Writer) {
				name := view.Profile.Name
				if name == "" {
					name = view.Profile.ID
				}
				fmt.Fprintf(w, "Profile: %s (sort mode: %s, updated %s)\n\n",
					name, view.Profile.SortMode, view.Profile.UpdatedAt.Format("2006-01-02 15:04:05"))
				printOrder(w, view.Order)
				if len(view.Notifications) > 0 {
					fmt.Fprintln(w)
					for _, n := range view.Notifications {
						fmt.Fprintf(w, "%s  ", n.CreatedAt.Format("2006-01-02 15:04:05"))
						printNotifications(w, []engine.Notification{n.Notification()})
					}
				}
			})
		},
	}

	cmd.Flags().IntVar(&notes, "notifications", 5, "number of recent notifications to show")

	return cmd
}
