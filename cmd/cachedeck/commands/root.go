package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cachedeck/cachedeck/pkg/config"
	"github.com/cachedeck/cachedeck/pkg/console"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// buildVersion is the release version threaded through telemetry.
var buildVersion = "dev"

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cachedeck",
		Short: "CacheDeck - Cache Operations Console",
		Long: `CacheDeck is an operations console for Redis, Memcached, and Valkey
fleets. It wraps every cache mutation with retries, timeouts, history,
and guardrails.

Features:
  - Connection profiles with per-environment guardrails
  - Key browsing and gated single-key mutations
  - Bulk workflows: delete-by-pattern, TTL normalize, warmup
  - Governance policy packs with execution windows and Rego guards
  - Retention budgets with automatic purging
  - Threshold alert rules over operation telemetry
  - Incident export bundles with redaction`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cachedeck.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newConnectionsCommand())
	rootCmd.AddCommand(newKeysCommand())
	rootCmd.AddCommand(newWorkflowCommand())
	rootCmd.AddCommand(newGovernanceCommand())
	rootCmd.AddCommand(newAlertsCommand())
	rootCmd.AddCommand(newRetentionCommand())
	rootCmd.AddCommand(newExportCommand())

	return rootCmd
}

// withApp loads configuration, wires the console, runs fn, and tears
// everything down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *console.App) error) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	telCfg := cfg.TelemetryConfig(buildVersion)
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	app, err := console.Bootstrap(ctx, cfg, tel)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	return fn(ctx, app)
}

// printResult renders a value as indented JSON when --json is set, or
// via the provided human formatter otherwise.
func printResult(value interface{}, human func()) error {
	if jsonOutput {
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	}
	human()
	return nil
}
