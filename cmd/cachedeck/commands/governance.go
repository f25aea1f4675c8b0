package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cachedeck/cachedeck/pkg/console"
	"github.com/cachedeck/cachedeck/pkg/core"
)

func newGovernanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "governance",
		Aliases: []string{"gov"},
		Short:   "Manage governance policy packs and assignments",
	}

	cmd.AddCommand(newGovernanceListCommand())
	cmd.AddCommand(newGovernanceAddCommand())
	cmd.AddCommand(newGovernanceDeleteCommand())
	cmd.AddCommand(newGovernanceAssignCommand())
	cmd.AddCommand(newGovernanceUnassignCommand())

	return cmd
}

func newGovernanceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List policy packs and assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				packs, err := app.Service.ListPolicyPacks(ctx)
				if err != nil {
					return err
				}
				assignments, err := app.Service.ListAssignments(ctx)
				if err != nil {
					return err
				}
				type listing struct {
					Packs       []*core.GovernancePolicyPack `json:"packs"`
					Assignments []*core.GovernanceAssignment `json:"assignments"`
				}
				return printResult(listing{Packs: packs, Assignments: assignments}, func() {
					for _, p := range packs {
						envs := make([]string, len(p.Environments))
						for i, e := range p.Environments {
							envs[i] = string(e)
						}
						fmt.Printf("%s  %-24s envs=%s items<=%d retries<=%d scheduled=%v\n",
							p.ID, p.Name, strings.Join(envs, ","), p.MaxWorkflowItems, p.MaxRetryAttempts, p.SchedulingEnabled)
					}
					for _, a := range assignments {
						fmt.Printf("  connection %s -> pack %s\n", a.ConnectionID, a.PolicyPackID)
					}
				})
			})
		},
	}
}

func newGovernanceAddCommand() *cobra.Command {
	var (
		name          string
		environments  []string
		maxItems      int
		maxRetries    int
		windowSpecs   []string
		guardRegoFile string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a policy pack",
		Example: `  # Staging-only pack capped at 200 items, weekday evenings
  cachedeck governance add --name staging-ops --env staging --max-items 200 --window "1,2,3,4,5@18:00-23:00"

  # Pack with a Rego guard
  cachedeck governance add --name guarded --env dev --guard-rego guard.rego`,
		RunE: func(cmd *cobra.Command, args []string) error {
			windows, err := parseWindows(windowSpecs)
			if err != nil {
				return err
			}
			guardRego := ""
			if guardRegoFile != "" {
				data, err := os.ReadFile(guardRegoFile)
				if err != nil {
					return err
				}
				guardRego = string(data)
			}
			envs := make([]core.Environment, len(environments))
			for i, e := range environments {
				envs[i] = core.Environment(e)
			}
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				pack, err := app.Service.CreatePolicyPack(ctx, console.PolicyPackRequest{
					Name:              name,
					Environments:      envs,
					MaxWorkflowItems:  maxItems,
					MaxRetryAttempts:  maxRetries,
					SchedulingEnabled: len(windows) > 0,
					ExecutionWindows:  windows,
					GuardRego:         guardRego,
					Enabled:           true,
				})
				if err != nil {
					return err
				}
				return printResult(pack, func() {
					fmt.Printf("Created policy pack %s (%s)\n", pack.Name, pack.ID)
				})
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "policy pack name")
	cmd.Flags().StringSliceVar(&environments, "env", nil, "permitted environments (repeatable)")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "workflow item cap (0 = no cap)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry attempt cap (0 = no cap)")
	cmd.Flags().StringArrayVar(&windowSpecs, "window", nil, `execution window "days@HH:MM-HH:MM" (repeatable)`)
	cmd.Flags().StringVar(&guardRegoFile, "guard-rego", "", "path to a Rego guard file")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("env")

	return cmd
}

func newGovernanceDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <pack-id>",
		Short: "Delete a policy pack and its assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				return app.Service.DeletePolicyPack(ctx, args[0])
			})
		},
	}
}

func newGovernanceAssignCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <connection-id> <pack-id>",
		Short: "Bind a connection to a policy pack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				assignment, err := app.Service.AssignPolicyPack(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printResult(assignment, func() {
					fmt.Printf("Assigned pack %s to connection %s\n", assignment.PolicyPackID, assignment.ConnectionID)
				})
			})
		},
	}
}

func newGovernanceUnassignCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unassign <connection-id>",
		Short: "Remove a connection's policy pack assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				return app.Service.UnassignPolicyPack(ctx, args[0])
			})
		},
	}
}

// parseWindows converts "1,2,3@22:00-02:00" specs into execution
// windows. Day numbers follow time.Weekday, 0=Sunday.
func parseWindows(specs []string) ([]core.ExecutionWindow, error) {
	var windows []core.ExecutionWindow
	for _, spec := range specs {
		days, clock, found := strings.Cut(spec, "@")
		if !found {
			return nil, fmt.Errorf("malformed window %q, expected days@HH:MM-HH:MM", spec)
		}
		start, end, found := strings.Cut(clock, "-")
		if !found {
			return nil, fmt.Errorf("malformed window time range %q", clock)
		}
		var weekdays []time.Weekday
		for _, d := range strings.Split(days, ",") {
			switch strings.TrimSpace(d) {
			case "0":
				weekdays = append(weekdays, time.Sunday)
			case "1":
				weekdays = append(weekdays, time.Monday)
			case "2":
				weekdays = append(weekdays, time.Tuesday)
			case "3":
				weekdays = append(weekdays, time.Wednesday)
			case "4":
				weekdays = append(weekdays, time.Thursday)
			case "5":
				weekdays = append(weekdays, time.Friday)
			case "6":
				weekdays = append(weekdays, time.Saturday)
			default:
				return nil, fmt.Errorf("unknown weekday %q in window %q", d, spec)
			}
		}
		windows = append(windows, core.ExecutionWindow{
			Weekdays:  weekdays,
			StartTime: strings.TrimSpace(start),
			EndTime:   strings.TrimSpace(end),
		})
	}
	return windows, nil
}
