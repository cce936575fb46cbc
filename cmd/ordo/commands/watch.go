package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ordomods/ordo/pkg/inventory"
	"github.com/ordomods/ordo/pkg/policy"
	"github.com/ordomods/ordo/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var (
		sessionID  string
		launchPath string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the load order reconciled while the configuration changes",
		Long: `Run reconciliation passes whenever the module inventory changes.

The watcher:
  - Reconciles once at start-up
  - Reloads the configuration on file changes and resubmits a pass when the
    installed module set changed
  - Reloads custom policies on change when settings.policies.watch is set
  - Serves Prometheus metrics when settings.metrics.enabled is set

Passes computed against an outdated inventory are discarded, never committed.`,
		Example: `  # Watch with the default configuration
  ordo watch

  # Stream events as JSON lines
  ordo watch --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, appOptions{
				scheduler:   true,
				sessionID:   sessionID,
				launcher:    &fileLauncher{path: launchPath, logger: log.Logger},
				longRunning: true,
			})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.Close(shutdownCtx)
			}()

			settings := a.file.Settings
			out := cmd.OutOrStdout()

			var outMu sync.Mutex
			a.tel.Events.Subscribe(func(e telemetry.Event) {
				outMu.Lock()
				defer outMu.Unlock()
				if outputFormat == formatJSON {
					_ = json.NewEncoder(out).Encode(e)
					return
				}
				fmt.Fprintf(out, "%s [%s] %s\n", e.Timestamp.Format("15:04:05"), e.Type, e.Message)
				for _, d := range e.Details {
					fmt.Fprintf(out, "    - %s\n", d)
				}
			}, nil)

			var wg sync.WaitGroup
			defer wg.Wait()
			defer cancel()

			if settings.Metrics.Enabled {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := a.tel.Metrics.Serve(ctx); err != nil {
						a.logger.Error().Err(err).Msg("Metrics server failed")
						cancel()
					}
				}()
				a.logger.Info().Str("address", settings.Metrics.ListenAddress).Msg("Serving metrics")
			}

			watcher, err := inventory.NewWatcher(inventory.WatcherConfig{
				Paths:     configPaths,
				Inventory: a.inventory,
				Debounce:  settings.Watch.DebounceDuration(),
				Events:    a.tel.Events,
				Metrics:   a.tel.Metrics,
				Logger:    &a.logger,
				OnChange: func(ctx context.Context, version uint64) {
					if _, err := a.scheduler.Submit(ctx, a.profileID()); err != nil {
						a.logger.Error().Err(err).Uint64("inventory_version", version).Msg("Failed to submit pass")
					}
				},
			})
			if err != nil {
				return err
			}
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Close()

			if settings.Policies.Watch && len(settings.Policies.Paths) > 0 {
				loader := policy.NewLoader(a.logger)
				err := loader.Watch(ctx, settings.Policies.Paths, func(policies []policy.Policy) error {
					err := a.policies.ReplaceCustomPolicies(ctx, policies)
					_ = a.tel.Events.PublishPolicyReloaded(len(policies), err)
					return err
				})
				if err != nil {
					return fmt.Errorf("failed to watch policies: %w", err)
				}
				defer loader.StopWatching()
			}

			if _, err := a.scheduler.Submit(ctx, a.profileID()); err != nil {
				return err
			}

			a.logger.Info().
				Str("profile_id", a.profileID()).
				Strs("config", configPaths).
				Msg("Watching for changes")

			<-ctx.Done()
			a.logger.Info().Msg("Stopping watcher")
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "host session id (generated when empty)")
	cmd.Flags().StringVar(&launchPath, "launch-file", "", "write the launch order to this YAML file")

	return cmd
}
