package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cachedeck/cachedeck/pkg/console"
	"github.com/cachedeck/cachedeck/pkg/core"
)

func newConnectionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage cache connection profiles",
	}

	cmd.AddCommand(newConnectionsListCommand())
	cmd.AddCommand(newConnectionsAddCommand())
	cmd.AddCommand(newConnectionsDeleteCommand())
	cmd.AddCommand(newConnectionsTestCommand())
	cmd.AddCommand(newConnectionsReadOnlyCommand())

	return cmd
}

func newConnectionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connection profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				profiles, err := app.Service.ListConnections(ctx)
				if err != nil {
					return err
				}
				return printResult(profiles, func() {
					for _, p := range profiles {
						mode := "rw"
						if !p.Writable() {
							mode = "ro"
						}
						fmt.Printf("%s  %-20s %s://%s:%d  [%s %s]\n",
							p.ID, p.Name, p.Engine, p.Host, p.Port, p.Environment, mode)
					}
				})
			})
		},
	}
}

func newConnectionsAddCommand() *cobra.Command {
	var (
		name        string
		engine      string
		host        string
		port        int
		environment string
		readOnly    bool
		timeoutMs   int
		secret      string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a connection profile",
		Example: `  # Add a staging redis connection
  cachedeck connections add --name cache-stg --engine redis --host 10.0.0.5 --port 6379 --env staging

  # Add a read-only prod valkey connection with a secret
  cachedeck connections add --name cache-prod --engine valkey --host cache.prod --port 6379 --env prod --read-only --secret s3cret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				profile, err := app.Service.CreateConnection(ctx, console.ConnectionRequest{
					Name:        name,
					Engine:      core.CacheEngine(engine),
					Host:        host,
					Port:        port,
					Environment: core.Environment(environment),
					ReadOnly:    readOnly,
					TimeoutMs:   timeoutMs,
					Secret:      secret,
				})
				if err != nil {
					return err
				}
				return printResult(profile, func() {
					fmt.Printf("Created connection %s (%s)\n", profile.Name, profile.ID)
				})
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "connection name")
	cmd.Flags().StringVar(&engine, "engine", "redis", "cache engine (redis, memcached, valkey)")
	cmd.Flags().StringVar(&host, "host", "", "backend host")
	cmd.Flags().IntVar(&port, "port", 6379, "backend port")
	cmd.Flags().StringVar(&environment, "env", "dev", "environment (dev, staging, prod)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "mark the connection read-only")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 5000, "per-operation timeout in milliseconds")
	cmd.Flags().StringVar(&secret, "secret", "", "backend secret (stored separately)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("host")

	return cmd
}

func newConnectionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <connection-id>",
		Short: "Delete a connection profile and its secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := app.Service.DeleteConnection(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted connection %s\n", args[0])
				return nil
			})
		},
	}
}

func newConnectionsTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <connection-id>",
		Short: "Verify a connection is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := app.Service.TestConnection(ctx, args[0]); err != nil {
					return err
				}
				caps, err := app.Service.GetCapabilities(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(caps, func() {
					fmt.Printf("Connection OK (ttl=%v patternSearch=%v version=%s)\n",
						caps.SupportsTTL, caps.SupportsPatternSearch, caps.ServerVersion)
				})
			})
		},
	}
}

func newConnectionsReadOnlyCommand() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "force-read-only <connection-id>",
		Short: "Set or clear the policy-level read-only flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				profile, err := app.Service.SetForceReadOnly(ctx, args[0], !clear)
				if err != nil {
					return err
				}
				return printResult(profile, func() {
					fmt.Printf("force_read_only=%v on %s\n", profile.ForceReadOnly, profile.Name)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "clear the flag instead of setting it")

	return cmd
}
