package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cachedeck/cachedeck/pkg/config"
	"github.com/cachedeck/cachedeck/pkg/console"
)

func newServeCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the console until interrupted",
		Long: `Serve keeps the console resident: it exposes the Prometheus metrics
endpoint (when enabled), runs retention enforcement on its configured
cadence, and optionally reloads the configuration file on change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := app.Telemetry.StartMetricsServer(); err != nil {
					return err
				}
				if watch {
					watcher := config.NewWatcher(configPath, app.ApplyConfig, app.Telemetry.Logger)
					go func() {
						_ = watcher.Watch(ctx)
					}()
				}

				app.Telemetry.Logger.Info("Console running, press Ctrl+C to stop")
				<-ctx.Done()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "reload configuration on file change")

	return cmd
}
