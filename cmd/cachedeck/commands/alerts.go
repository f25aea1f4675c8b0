package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cachedeck/cachedeck/pkg/console"
	"github.com/cachedeck/cachedeck/pkg/core"
)

func newAlertsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage alert rules and the alert inbox",
	}

	cmd.AddCommand(newAlertsListCommand())
	cmd.AddCommand(newAlertsReadCommand())
	cmd.AddCommand(newAlertsRulesCommand())

	return cmd
}

func newAlertsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List raised alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				alerts, err := app.Service.ListAlerts(ctx, limit)
				if err != nil {
					return err
				}
				unread, err := app.Service.CountUnreadAlerts(ctx)
				if err != nil {
					return err
				}
				return printResult(alerts, func() {
					for _, a := range alerts {
						marker := " "
						if !a.Read {
							marker = "*"
						}
						fmt.Printf("%s %s  [%-8s %-13s] %s: %s\n",
							marker, a.ID, a.Severity, a.Source, a.Title, a.Message)
					}
					fmt.Printf("%d unread\n", unread)
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum alerts")

	return cmd
}

func newAlertsReadCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "read [alert-id]",
		Short: "Mark alerts as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				if all {
					return app.Service.MarkAllAlertsRead(ctx)
				}
				if len(args) == 0 {
					return fmt.Errorf("alert id or --all is required")
				}
				return app.Service.MarkAlertRead(ctx, args[0])
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "mark every alert read")

	return cmd
}

func newAlertsRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage threshold alert rules",
	}

	cmd.AddCommand(newAlertsRulesListCommand())
	cmd.AddCommand(newAlertsRulesAddCommand())
	cmd.AddCommand(newAlertsRulesDeleteCommand())

	return cmd
}

func newAlertsRulesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List alert rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				rules, err := app.Service.ListAlertRules(ctx)
				if err != nil {
					return err
				}
				return printResult(rules, func() {
					for _, r := range rules {
						state := "disabled"
						if r.Enabled {
							state = "enabled"
						}
						fmt.Printf("%s  %s > %g over %dm  [%s, %s]\n",
							r.ID, r.Metric, r.Threshold, r.LookbackMinutes, r.Severity, state)
					}
				})
			})
		},
	}
}

func newAlertsRulesAddCommand() *cobra.Command {
	var (
		metric       string
		threshold    float64
		lookback     int
		severity     string
		connectionID string
		environment  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a threshold alert rule",
		Example: `  # Alert when prod error rate exceeds 5% over 10 minutes
  cachedeck alerts rules add --metric errorRate --threshold 0.05 --lookback 10 --severity critical --env prod`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				rule, err := app.Service.CreateAlertRule(ctx, console.AlertRuleRequest{
					Metric:          core.AlertMetric(metric),
					Threshold:       threshold,
					LookbackMinutes: lookback,
					Severity:        core.Severity(severity),
					ConnectionID:    connectionID,
					Environment:     core.Environment(environment),
					Enabled:         true,
				})
				if err != nil {
					return err
				}
				return printResult(rule, func() {
					fmt.Printf("Created alert rule %s\n", rule.ID)
				})
			})
		},
	}

	cmd.Flags().StringVar(&metric, "metric", "", "metric (errorRate, latencyP95Ms, slowOperationCount, failedOperationCount)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "trigger threshold")
	cmd.Flags().IntVar(&lookback, "lookback", 5, "lookback window in minutes")
	cmd.Flags().StringVar(&severity, "severity", "warning", "alert severity (info, warning, critical)")
	cmd.Flags().StringVar(&connectionID, "connection", "", "restrict to one connection")
	cmd.Flags().StringVar(&environment, "env", "", "restrict to one environment")
	cmd.MarkFlagRequired("metric")
	cmd.MarkFlagRequired("threshold")

	return cmd
}

func newAlertsRulesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete an alert rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				return app.Service.DeleteAlertRule(ctx, args[0])
			})
		},
	}
}
