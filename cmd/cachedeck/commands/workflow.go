package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cachedeck/cachedeck/pkg/console"
	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/workflow"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Run and inspect bulk cache workflows",
	}

	cmd.AddCommand(newWorkflowTemplatesCommand())
	cmd.AddCommand(newWorkflowPreviewCommand())
	cmd.AddCommand(newWorkflowRunCommand())
	cmd.AddCommand(newWorkflowResumeCommand())
	cmd.AddCommand(newWorkflowRerunCommand())
	cmd.AddCommand(newWorkflowExecutionsCommand())

	return cmd
}

func newWorkflowTemplatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List built-in and stored workflow templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				templates, err := app.Service.ListTemplates(ctx)
				if err != nil {
					return err
				}
				return printResult(templates, func() {
					for _, t := range templates {
						marker := " "
						if t.Builtin() {
							marker = "*"
						}
						fmt.Printf("%s %s  %-28s %s\n", marker, t.ID, t.Name, t.Kind)
					}
				})
			})
		},
	}
}

func newWorkflowPreviewCommand() *cobra.Command {
	var (
		connectionID string
		templateID   string
		params       []string
		cursor       string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview the targets a workflow run would touch",
		Example: `  # Preview a pattern delete
  cachedeck workflow preview --connection <id> --template builtin-delete-by-pattern --param pattern="session:*"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseParams(params)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				preview, err := app.Service.PreviewWorkflow(ctx, connectionID, workflow.ExecuteRequest{
					TemplateID:         templateID,
					ParameterOverrides: overrides,
				}, workflow.PageRequest{Cursor: cursor, Limit: limit})
				if err != nil {
					return err
				}
				return printResult(preview, func() {
					for _, item := range preview.Items {
						fmt.Printf("%-8s %s\n", item.Action, item.Key)
					}
					fmt.Printf("%d item(s)", preview.EstimatedCount)
					if preview.Truncated {
						fmt.Printf(", truncated (next cursor %s)", preview.NextCursor)
					}
					fmt.Println()
				})
			})
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection", "", "connection id")
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter override key=value (repeatable)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor")
	cmd.Flags().IntVar(&limit, "limit", 0, "preview page size")
	cmd.MarkFlagRequired("connection")
	cmd.MarkFlagRequired("template")

	return cmd
}

func newWorkflowRunCommand() *cobra.Command {
	var (
		connectionID string
		templateID   string
		params       []string
		dryRun       bool
		confirmProd  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow against a connection",
		Example: `  # Dry-run a TTL normalization
  cachedeck workflow run --connection <id> --template builtin-ttl-normalize --param pattern="cache:*" --dry-run

  # Delete matching keys on prod with guardrail confirmation
  cachedeck workflow run --connection <id> --template builtin-delete-by-pattern --param pattern="stale:*" --confirm-prod`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseParams(params)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				record, err := app.Service.ExecuteWorkflow(ctx, connectionID, workflow.ExecuteRequest{
					TemplateID:         templateID,
					ParameterOverrides: overrides,
					DryRun:             dryRun,
					GuardrailConfirmed: confirmProd,
				})
				if err != nil {
					return err
				}
				return printResult(record, func() { printExecution(record) })
			})
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection", "", "connection id")
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter override key=value (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview only, mutate nothing")
	cmd.Flags().BoolVar(&confirmProd, "confirm-prod", false, "acknowledge the production guardrail")
	cmd.MarkFlagRequired("connection")
	cmd.MarkFlagRequired("template")

	return cmd
}

func newWorkflowResumeCommand() *cobra.Command {
	var confirmProd bool

	cmd := &cobra.Command{
		Use:   "resume <execution-id>",
		Short: "Resume an aborted or failed run from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				record, err := app.Service.ResumeWorkflow(ctx, args[0], confirmProd)
				if err != nil {
					return err
				}
				return printResult(record, func() { printExecution(record) })
			})
		},
	}

	cmd.Flags().BoolVar(&confirmProd, "confirm-prod", false, "acknowledge the production guardrail")

	return cmd
}

func newWorkflowRerunCommand() *cobra.Command {
	var confirmProd bool

	cmd := &cobra.Command{
		Use:   "rerun <execution-id>",
		Short: "Start a fresh run with a prior execution's parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				record, err := app.Service.RerunWorkflow(ctx, args[0], confirmProd)
				if err != nil {
					return err
				}
				return printResult(record, func() { printExecution(record) })
			})
		},
	}

	cmd.Flags().BoolVar(&confirmProd, "confirm-prod", false, "acknowledge the production guardrail")

	return cmd
}

func newWorkflowExecutionsCommand() *cobra.Command {
	var (
		connectionID string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List workflow executions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				records, err := app.Service.ListExecutions(ctx, core.ExecutionFilter{
					ConnectionID: connectionID,
					Limit:        limit,
				})
				if err != nil {
					return err
				}
				return printResult(records, func() {
					for _, r := range records {
						fmt.Printf("%s  %-20s %-16s %-8s retries=%d\n",
							r.ID, r.Name, r.Kind, r.Status, r.RetryCount)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection", "", "filter by connection id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records")

	return cmd
}

func printExecution(record *core.WorkflowExecutionRecord) {
	fmt.Printf("Execution %s (%s) finished %s\n", record.ID, record.Kind, record.Status)
	for _, step := range record.StepResults {
		fmt.Printf("  %-8s %-40s attempts=%d %s\n", step.Status, step.Step, step.Attempts, step.Message)
	}
	if record.CheckpointToken != "" {
		fmt.Printf("Checkpoint at item %s; resume with: cachedeck workflow resume %s\n",
			record.CheckpointToken, record.ID)
	}
}

// parseParams converts repeated key=value flags into parameter
// overrides, coercing numeric and boolean literals.
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("malformed parameter %q, expected key=value", pair)
		}
		if n, err := strconv.Atoi(value); err == nil {
			params[key] = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			params[key] = b
		} else {
			params[key] = value
		}
	}
	return params, nil
}
