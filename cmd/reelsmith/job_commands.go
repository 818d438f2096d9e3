package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reelsmith/internal/api"
	"reelsmith/internal/jobs"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var width, height int
	var frameRate float64

	cmd := &cobra.Command{
		Use:   "submit <narration> <query>",
		Short: "Queue a composition for a narration file and a clip search query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			narration, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve narration path: %w", err)
			}
			req := api.SubmitRequest{Narration: narration, Query: args[1]}
			if width > 0 || height > 0 || frameRate > 0 {
				req.Target = &api.TargetOverride{Width: width, Height: height, FrameRate: frameRate}
			}
			return ctx.withJobs(cmd, func(c context.Context, svc *api.JobService) error {
				job, err := svc.Submit(c, req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s (%q)\n", job.ID, job.Query)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "Override the output width")
	cmd.Flags().IntVar(&height, "height", 0, "Override the output height")
	cmd.Flags().Float64Var(&frameRate, "fps", 0, "Override the output frame rate")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(c context.Context, svc *api.JobService) error {
				counts, err := svc.Stats(c)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.JobStatsResponse{Counts: counts})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable("", []string{"Status", "Count"}, buildStatusRows(counts), []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func buildStatusRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, status := range jobs.AllStatuses() {
		rows = append(rows, []string{string(status), strconv.Itoa(counts[string(status)])})
	}
	return rows
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := api.ParseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withJobs(cmd, func(c context.Context, svc *api.JobService) error {
				items, err := svc.List(c, limit, filter...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.JobListResponse{Items: items})
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable("", []string{"ID", "Status", "Stage", "Progress", "Query", "Updated"},
					buildJobRows(items), []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to show")
	return cmd
}

func buildJobRows(items []api.Job) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		updated := ""
		if t := api.ParseTime(item.UpdatedAt); !t.IsZero() {
			updated = t.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			item.ID,
			item.Status,
			item.Progress.Stage,
			fmt.Sprintf("%.0f%%", item.Progress.Percent),
			truncate(item.Query, 32),
			updated,
		})
	}
	return rows
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its clip verdicts and failure details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(c context.Context, svc *api.JobService) error {
				job, err := svc.Describe(c, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				printJob(cmd.OutOrStdout(), job, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func printJob(out io.Writer, job api.Job, colorize bool) {
	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), job.Status, colorize))
	fmt.Fprintln(out, renderStatusLine("Stage", statusInfo, fmt.Sprintf("%s %.0f%% %s", job.Progress.Stage, job.Progress.Percent, job.Progress.Message), colorize))
	fmt.Fprintln(out, renderStatusLine("Query", statusInfo, job.Query, colorize))
	fmt.Fprintln(out, renderStatusLine("Narration", statusInfo, job.Narration, colorize))
	if job.OutputPath != "" {
		fmt.Fprintln(out, renderStatusLine("Output", statusOK, job.OutputPath, colorize))
	}
	if job.PublishedURL != "" {
		fmt.Fprintln(out, renderStatusLine("Published", statusOK, job.PublishedURL, colorize))
	}
	if job.LogPath != "" {
		fmt.Fprintln(out, renderStatusLine("Log", statusInfo, job.LogPath, colorize))
	}
	if f := job.Failure; f != nil {
		fmt.Fprintln(out, renderStatusLine("Failure", statusError,
			fmt.Sprintf("%s at %s (%s, retryable=%s): %s", f.Code, f.Stage, f.Kind, yesNo(f.Retryable), f.Message), colorize))
	}
	if len(job.Clips) > 0 {
		rows := make([][]string, 0, len(job.Clips))
		for _, clip := range job.Clips {
			rows = append(rows, []string{
				clip.ID,
				clip.Verdict,
				clip.Reason,
				strconv.FormatFloat(clip.Confidence, 'f', 2, 64),
				strconv.Itoa(clip.FramesProcessed),
			})
		}
		fmt.Fprint(out, renderTable("Clips", []string{"Clip", "Verdict", "Reason", "Confidence", "Frames"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight}))
	}
}

func jobStatusKind(status string) statusKind {
	switch jobs.Status(status) {
	case jobs.StatusCompleted:
		return statusOK
	case jobs.StatusFailed:
		return statusError
	case jobs.StatusCancelled:
		return statusWarn
	default:
		return statusInfo
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(c context.Context, svc *api.JobService) error {
				job, err := svc.Cancel(c, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled at stage %s\n", job.ID, job.Progress.Stage)
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed job at the stage it failed in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(c context.Context, svc *api.JobService) error {
				job, err := svc.Retry(c, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s requeued at stage %s\n", job.ID, job.Progress.Stage)
				return nil
			})
		},
	}
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}
