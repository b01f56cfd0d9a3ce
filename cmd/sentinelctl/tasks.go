package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"Web3-Sentinel/sdk/go/sentinel"
)

func tasksCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Submit and inspect asynchronous tasks",
	}
	cmd.AddCommand(
		tasksSubmitCmd(opts),
		tasksGetCmd(opts),
		tasksListCmd(opts),
		tasksStatsCmd(opts),
	)
	return cmd
}

func tasksSubmitCmd(opts *globalOptions) *cobra.Command {
	var (
		title       string
		description string
		id          string
		wait        bool
		interval    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <agent>",
		Short: "Queue an agent run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			job, err := client.SubmitJob(ctx, sentinel.DispatchRequest{
				ID:        id,
				AgentType: args[0],
				Task:      sentinel.TaskInput{Title: title, Description: description},
			})
			if err != nil {
				return err
			}
			if wait {
				if job, err = client.WaitForJob(ctx, job.ID, interval); err != nil {
					return err
				}
			}
			return printJob(cmd, opts, job)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&id, "id", "", "caller supplied job id")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval used with --wait")
	return cmd
}

func tasksGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			job, err := client.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			return printJob(cmd, opts, job)
		},
	}
}

func bindJobQuery(cmd *cobra.Command, query *sentinel.JobQuery, since, until *string) {
	flags := cmd.Flags()
	flags.IntVar(&query.Limit, "limit", 0, "maximum number of jobs")
	flags.IntVar(&query.Offset, "offset", 0, "number of jobs to skip")
	flags.StringSliceVar(&query.Statuses, "status", nil, "filter by status (queued, running, succeeded, failed)")
	flags.StringSliceVar(&query.Agents, "agent", nil, "filter by agent")
	flags.StringVar(since, "since", "", "only jobs updated at or after this RFC3339 time")
	flags.StringVar(until, "until", "", "only jobs updated at or before this RFC3339 time")
	flags.StringVar(&query.Query, "query", "", "substring match on id, title and description")
}

func resolveJobQuery(query sentinel.JobQuery, since, until string) (sentinel.JobQuery, error) {
	var err error
	if since != "" {
		if query.Since, err = time.Parse(time.RFC3339, since); err != nil {
			return query, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if query.Until, err = time.Parse(time.RFC3339, until); err != nil {
			return query, fmt.Errorf("invalid --until: %w", err)
		}
	}
	return query, nil
}

func tasksListCmd(opts *globalOptions) *cobra.Command {
	var (
		query        sentinel.JobQuery
		since, until string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := resolveJobQuery(query, since, until)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			jobs, err := client.ListJobs(ctx, q)
			if err != nil {
				return err
			}
			if opts.jsonOutput() {
				return printJSON(cmd, jobs)
			}
			w := newTable(cmd, "ID\tAGENT\tSTATUS\tATTEMPTS\tUPDATED\tTITLE")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n", j.ID, j.AgentType, j.Status, j.Attempts, j.MaxRetries, formatMillis(j.UpdatedAt), j.Title)
			}
			return w.Flush()
		},
	}
	bindJobQuery(cmd, &query, &since, &until)
	cmd.Flags().StringVar(&query.Order, "order", "", "sort order by update time: asc or desc")
	return cmd
}

func tasksStatsCmd(opts *globalOptions) *cobra.Command {
	var (
		query        sentinel.JobQuery
		since, until string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := resolveJobQuery(query, since, until)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			stats, err := client.JobStats(ctx, q)
			if err != nil {
				return err
			}
			if opts.jsonOutput() {
				return printJSON(cmd, stats)
			}
			w := newTable(cmd, "TOTAL\tQUEUED\tRUNNING\tSUCCEEDED\tFAILED")
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", stats.Total, stats.Queued, stats.Running, stats.Succeeded, stats.Failed)
			return w.Flush()
		},
	}
	bindJobQuery(cmd, &query, &since, &until)
	return cmd
}

func printJob(cmd *cobra.Command, opts *globalOptions, job sentinel.Job) error {
	if opts.jsonOutput() {
		return printJSON(cmd, job)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:       %s\n", job.ID)
	fmt.Fprintf(out, "Agent:     %s\n", job.AgentType)
	fmt.Fprintf(out, "Status:    %s\n", job.Status)
	fmt.Fprintf(out, "Attempts:  %d/%d\n", job.Attempts, job.MaxRetries)
	fmt.Fprintf(out, "Updated:   %s\n", formatMillis(job.UpdatedAt))
	if job.LastError != "" {
		fmt.Fprintf(out, "Error:     %s (%s)\n", job.LastError, job.ErrorCode)
	}
	if job.Task != nil && len(job.Task.Result) > 0 {
		fmt.Fprintf(out, "Result:    %s\n", job.Task.Result)
	}
	return nil
}
