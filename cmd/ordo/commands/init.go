package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ordomods/ordo/pkg/config"
	"github.com/ordomods/ordo/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize an ordo workspace",
		Long: `Initialize a workspace with a starter configuration and an empty store.

The configuration declares the managed profile, the normalizer and the
installed modules. Edit it to describe your module inventory.`,
		Example: `  # Initialize in the current directory
  ordo init

  # Initialize elsewhere, replacing an existing configuration
  ordo init ./profiles/survival --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			log.Info().Str("dir", dir).Bool("force", force).Msg("Initializing workspace")

			out := cmd.OutOrStdout()
			path, err := config.WriteDefault(dir, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Wrote configuration: %s\n", path)

			file, err := config.NewLoader().LoadFile(cmd.Context(), path)
			if err != nil {
				return err
			}
			if err := file.Err(); err != nil {
				return fmt.Errorf("starter configuration is invalid: %w", err)
			}

			resolvePaths(&file.Settings, dir)
			dbPath := file.Settings.Store.Path
			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer store.Close()

			if err := store.Init(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			if err := store.UpsertProfile(cmd.Context(), &stores.Profile{
				ID:       file.Settings.Profile,
				Name:     file.Settings.ProfileName,
				SortMode: file.Settings.SortMode(),
			}); err != nil {
				return fmt.Errorf("failed to create profile: %w", err)
			}
			fmt.Fprintf(out, "✓ Initialized store: %s\n", dbPath)
			fmt.Fprintf(out, "✓ Created profile: %s\n", file.Settings.Profile)

			fmt.Fprintln(out, "\nRun 'ordo reconcile' to compute the first load order.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")

	return cmd
}
