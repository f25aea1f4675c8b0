package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cachedeck/cachedeck/pkg/console"
)

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Browse and mutate cache keys",
	}

	cmd.AddCommand(newKeysListCommand())
	cmd.AddCommand(newKeysSearchCommand())
	cmd.AddCommand(newKeysGetCommand())
	cmd.AddCommand(newKeysSetCommand())
	cmd.AddCommand(newKeysDeleteCommand())

	return cmd
}

func newKeysListCommand() *cobra.Command {
	var (
		connectionID string
		cursor       string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List keys on a connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				result, err := app.Service.ListKeys(ctx, connectionID, cursor, limit)
				if err != nil {
					return err
				}
				return printResult(result, func() {
					for _, key := range result.Keys {
						fmt.Println(key)
					}
					if result.Truncated {
						fmt.Printf("... truncated, continue with --cursor %s\n", result.NextCursor)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection", "", "connection id")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor")
	cmd.Flags().IntVar(&limit, "limit", 100, "page size")
	cmd.MarkFlagRequired("connection")

	return cmd
}

func newKeysSearchCommand() *cobra.Command {
	var (
		connectionID string
		cursor       string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "search <pattern>",
		Short: "Search keys by pattern",
		Args:  cobra.ExactArgs(1),
		Example: `  # Find session keys on staging
  cachedeck keys search "session:*" --connection <id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				result, err := app.Service.SearchKeys(ctx, connectionID, args[0], cursor, limit)
				if err != nil {
					return err
				}
				return printResult(result, func() {
					for _, key := range result.Keys {
						fmt.Println(key)
					}
					if result.Truncated {
						fmt.Printf("... truncated, continue with --cursor %s\n", result.NextCursor)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection", "", "connection id")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor")
	cmd.Flags().IntVar(&limit, "limit", 100, "page size")
	cmd.MarkFlagRequired("connection")

	return cmd
}

func newKeysGetCommand() *cobra.Command {
	var connectionID string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a key's value and TTL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				record, err := app.Service.GetKey(ctx, connectionID, args[0])
				if err != nil {
					return err
				}
				if record == nil {
					fmt.Printf("Key %q not found\n", args[0])
					return nil
				}
				return printResult(record, func() {
					fmt.Printf("%s (ttl=%ds size=%dB)\n%s\n", record.Key, record.TTLSeconds, record.SizeBytes, record.Value)
				})
			})
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection", "", "connection id")
	cmd.MarkFlagRequired("connection")

	return cmd
}

func newKeysSetCommand() *cobra.Command {
	var (
		connectionID string
		ttlSeconds   int
		confirmProd  bool
	)

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				err := app.Service.SetKey(ctx, connectionID, args[0], args[1], ttlSeconds, console.KeyWriteOptions{
					GuardrailConfirmed: confirmProd,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Set %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection", "", "connection id")
	cmd.Flags().IntVar(&ttlSeconds, "ttl", 0, "TTL in seconds (0 means no expiry)")
	cmd.Flags().BoolVar(&confirmProd, "confirm-prod", false, "acknowledge the production guardrail")
	cmd.MarkFlagRequired("connection")

	return cmd
}

func newKeysDeleteCommand() *cobra.Command {
	var (
		connectionID string
		confirmProd  bool
	)

	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				err := app.Service.DeleteKey(ctx, connectionID, args[0], console.KeyWriteOptions{
					GuardrailConfirmed: confirmProd,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection", "", "connection id")
	cmd.Flags().BoolVar(&confirmProd, "confirm-prod", false, "acknowledge the production guardrail")
	cmd.MarkFlagRequired("connection")

	return cmd
}
