package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"parley/internal/queue"
	"parley/internal/store"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsEnqueueCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var statuses []store.JobStatus
			if statusFlag != "" {
				status := store.JobStatus(strings.ToLower(statusFlag))
				if !store.ValidStatus(status) {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				statuses = append(statuses, status)
			}

			jobs, err := st.ListJobs(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					shortID(job.ID),
					job.Kind,
					statusLabel(job.Status),
					fmt.Sprintf("%d", job.Attempts),
					formatAge(job.UpdatedAt),
					truncate(job.ErrorMessage, 40),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Kind", "Status", "Attempts", "Updated", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (pending, processing, completed, failed)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.JobByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %s\n", job.ID)
			fmt.Fprintf(out, "Kind:     %s\n", job.Kind)
			fmt.Fprintf(out, "Status:   %s\n", statusLabel(job.Status))
			fmt.Fprintf(out, "Attempts: %d\n", job.Attempts)
			fmt.Fprintf(out, "Created:  %s\n", job.CreatedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "Updated:  %s\n", job.UpdatedAt.Local().Format(time.RFC3339))
			if job.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:    %s\n", job.ErrorMessage)
			}
			if job.Result != "" {
				fmt.Fprintf(out, "Result:   %s\n", job.Result)
			}
			fmt.Fprintf(out, "Payload:  %s\n", job.Payload)
			return nil
		},
	}
}

func newJobsEnqueueCommand(ctx *commandContext) *cobra.Command {
	var payloadFlag string

	cmd := &cobra.Command{
		Use:   "enqueue <kind>",
		Short: "Enqueue a background job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rdb, err := ctx.redisClient()
			if err != nil {
				return err
			}
			defer rdb.Close()

			q := queue.New(cfg, st, rdb, nil)
			id, err := q.Enqueue(cmd.Context(), args[0], payloadFlag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&payloadFlag, "payload", "{}", "Job payload as JSON")
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed jobs (all failed jobs when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rdb, err := ctx.redisClient()
			if err != nil {
				return err
			}
			defer rdb.Close()

			q := queue.New(cfg, st, rdb, nil)
			requeued, err := q.RetryFailed(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", requeued)
			return nil
		},
	}
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var failedOnly, completedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove terminal jobs from the status store",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var statuses []store.JobStatus
			if failedOnly {
				statuses = append(statuses, store.StatusFailed)
			}
			if completedOnly {
				statuses = append(statuses, store.StatusCompleted)
			}

			removed, err := st.ClearJobs(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Clear only failed jobs")
	cmd.Flags().BoolVar(&completedOnly, "completed", false, "Clear only completed jobs")
	return cmd
}

var titleCaser = cases.Title(language.Und)

func statusLabel(status store.JobStatus) string {
	return titleCaser.String(string(status))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	age := time.Since(t).Round(time.Second)
	if age < 0 {
		age = 0
	}
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}
