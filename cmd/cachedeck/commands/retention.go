package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cachedeck/cachedeck/pkg/console"
	"github.com/cachedeck/cachedeck/pkg/core"
)

func newRetentionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Manage dataset retention and storage budgets",
	}

	cmd.AddCommand(newRetentionStatusCommand())
	cmd.AddCommand(newRetentionSetCommand())
	cmd.AddCommand(newRetentionPurgeCommand())

	return cmd
}

func newRetentionStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-dataset usage against budgets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				summaries, err := app.Service.StorageSummary(ctx)
				if err != nil {
					return err
				}
				return printResult(summaries, func() {
					for _, s := range summaries {
						flag := ""
						if s.OverBudget {
							flag = "  OVER BUDGET"
						}
						fmt.Printf("%-24s rows=%-8d %d / %d bytes (%.0f%%)%s\n",
							s.Dataset, s.RowCount, s.TotalBytes, s.BudgetBytes, s.UsageRatio*100, flag)
					}
				})
			})
		},
	}
}

func newRetentionSetCommand() *cobra.Command {
	var (
		days      int
		budgetMb  int
		autoPurge bool
	)

	cmd := &cobra.Command{
		Use:   "set <dataset>",
		Short: "Update a dataset's retention policy",
		Args:  cobra.ExactArgs(1),
		Example: `  # Keep timeline events 14 days in 128 MB, purging automatically
  cachedeck retention set timelineEvents --days 14 --budget-mb 128 --auto-purge`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				policy, err := app.Service.UpdateRetentionPolicy(ctx, core.Dataset(args[0]), console.RetentionPolicyRequest{
					RetentionDays:   days,
					StorageBudgetMb: budgetMb,
					AutoPurgeOldest: autoPurge,
				})
				if err != nil {
					return err
				}
				return printResult(policy, func() {
					fmt.Printf("%s: keep %d day(s) in %d MB (auto-purge=%v)\n",
						policy.Dataset, policy.RetentionDays, policy.StorageBudgetMb, policy.AutoPurgeOldest)
				})
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "retention in days")
	cmd.Flags().IntVar(&budgetMb, "budget-mb", 256, "storage budget in MB")
	cmd.Flags().BoolVar(&autoPurge, "auto-purge", false, "purge oldest rows automatically when over budget")

	return cmd
}

func newRetentionPurgeCommand() *cobra.Command {
	var (
		olderThan string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "purge <dataset>",
		Short: "Purge rows older than the retention cutoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cutoff time.Time
			if olderThan != "" {
				parsed, err := time.Parse(time.RFC3339, olderThan)
				if err != nil {
					return fmt.Errorf("parsing --older-than: %w", err)
				}
				cutoff = parsed
			}
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				result, err := app.Service.PurgeDataset(ctx, core.Dataset(args[0]), cutoff, dryRun)
				if err != nil {
					return err
				}
				return printResult(result, func() {
					verb := "Purged"
					if result.DryRun {
						verb = "Would purge"
					}
					fmt.Printf("%s %d row(s), %d byte(s) before %s\n",
						verb, result.DeletedRows, result.FreedBytes, result.Cutoff.Format(time.RFC3339))
				})
			})
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "explicit RFC3339 cutoff (default: policy cutoff)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without deleting")

	return cmd
}
