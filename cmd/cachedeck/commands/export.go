package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cachedeck/cachedeck/pkg/config"
	"github.com/cachedeck/cachedeck/pkg/console"
	"github.com/cachedeck/cachedeck/pkg/core"
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Create and manage incident export bundles",
	}

	cmd.AddCommand(newExportPreviewCommand())
	cmd.AddCommand(newExportStartCommand())
	cmd.AddCommand(newExportListCommand())
	cmd.AddCommand(newExportCancelCommand())
	cmd.AddCommand(newExportResumeCommand())
	cmd.AddCommand(newExportBundlesCommand())

	return cmd
}

func exportRequestFlags(cmd *cobra.Command, from, to, redaction, dest *string, connections *[]string) {
	cmd.Flags().StringVar(from, "from", "", "range start (RFC3339)")
	cmd.Flags().StringVar(to, "to", "", "range end (RFC3339)")
	cmd.Flags().StringVar(redaction, "redaction", "", "redaction profile (none, strict; default: config defaultRedaction)")
	cmd.Flags().StringVar(dest, "dest", "", "destination directory (default: config export dir)")
	cmd.Flags().StringSliceVar(connections, "connection", nil, "restrict to connections (repeatable)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
}

// applyExportDefaults fills request fields the flags left empty from the
// configured export defaults.
func applyExportDefaults(req *core.IncidentExportRequest, cfg *config.Config) {
	if req.Redaction == "" {
		req.Redaction = core.RedactionProfile(cfg.Export.DefaultRedaction)
	}
	if req.DestinationDir == "" {
		req.DestinationDir = cfg.Export.DestinationDir
	}
}

func buildExportRequest(from, to, redaction, dest string, connections []string) (core.IncidentExportRequest, error) {
	fromTime, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return core.IncidentExportRequest{}, fmt.Errorf("parsing --from: %w", err)
	}
	toTime, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return core.IncidentExportRequest{}, fmt.Errorf("parsing --to: %w", err)
	}
	return core.IncidentExportRequest{
		From:           fromTime,
		To:             toTime,
		ConnectionIDs:  connections,
		Redaction:      core.RedactionProfile(redaction),
		DestinationDir: dest,
	}, nil
}

func newExportPreviewCommand() *cobra.Command {
	var from, to, redaction, dest string
	var connections []string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Report what an export would collect",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildExportRequest(from, to, redaction, dest, connections)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				applyExportDefaults(&req, app.Config())
				preview, err := app.Service.PreviewExport(ctx, req)
				if err != nil {
					return err
				}
				return printResult(preview, func() {
					fmt.Printf("timeline=%d logs=%d diagnostics=%d metrics=%d truncated=%v\n",
						preview.TimelineCount, preview.LogCount, preview.DiagnosticCount, preview.MetricCount, preview.Truncated)
					fmt.Printf("checksum preview: %s\n", preview.ChecksumPreview)
				})
			})
		},
	}

	exportRequestFlags(cmd, &from, &to, &redaction, &dest, &connections)

	return cmd
}

func newExportStartCommand() *cobra.Command {
	var from, to, redaction, dest string
	var connections []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch an incident export job",
		Example: `  # Export the last incident window with strict redaction
  cachedeck export start --from 2026-08-30T00:00:00Z --to 2026-08-31T00:00:00Z --dest ./exports --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildExportRequest(from, to, redaction, dest, connections)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				applyExportDefaults(&req, app.Config())
				job, err := app.Service.StartExport(ctx, req)
				if err != nil {
					return err
				}
				if wait {
					app.Exports.Wait()
					job, err = app.Service.GetExportJob(job.ID)
					if err != nil {
						return err
					}
				}
				return printResult(job, func() { printExportJob(job) })
			})
		},
	}

	exportRequestFlags(cmd, &from, &to, &redaction, &dest, &connections)
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job finishes")

	return cmd
}

func newExportListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List export jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				jobs := app.Service.ListExportJobs()
				return printResult(jobs, func() {
					for _, job := range jobs {
						fmt.Printf("%s  %-10s %-12s %3d%%  %s\n",
							job.ID, job.Status, job.Stage, job.ProgressPercent, job.DestinationPath)
					}
				})
			})
		},
	}
}

func newExportCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cooperative cancellation of an export job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				job, err := app.Service.CancelExport(args[0])
				if err != nil {
					return err
				}
				return printResult(job, func() { printExportJob(job) })
			})
		},
	}
}

func newExportResumeCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Restart a cancelled or failed export job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				job, err := app.Service.ResumeExport(args[0])
				if err != nil {
					return err
				}
				if wait {
					app.Exports.Wait()
					job, err = app.Service.GetExportJob(job.ID)
					if err != nil {
						return err
					}
				}
				return printResult(job, func() { printExportJob(job) })
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job finishes")

	return cmd
}

func newExportBundlesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bundles",
		Short: "List persisted incident bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *console.App) error {
				bundles, err := app.Service.ListBundles(ctx)
				if err != nil {
					return err
				}
				return printResult(bundles, func() {
					for _, b := range bundles {
						fmt.Printf("%s  %s  %dB  sha256=%s\n", b.ID, b.Path, b.SizeBytes, b.Checksum)
					}
				})
			})
		},
	}
}

func printExportJob(job *core.IncidentExportJob) {
	fmt.Printf("Job %s: %s (%s, %d%%)\n", job.ID, job.Status, job.Stage, job.ProgressPercent)
	if job.DestinationPath != "" {
		fmt.Printf("  artifact: %s\n", job.DestinationPath)
	}
	if job.Bundle != nil {
		fmt.Printf("  bundle %s sha256=%s size=%dB\n", job.Bundle.ID, job.Bundle.Checksum, job.Bundle.SizeBytes)
	}
	if job.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", job.ErrorMessage)
	}
}
