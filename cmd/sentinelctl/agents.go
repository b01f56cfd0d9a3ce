package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"Web3-Sentinel/sdk/go/sentinel"
)

func agentsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect registered agents",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all agents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := opts.client()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				agents, err := client.ListAgents(ctx)
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return printJSON(cmd, agents)
				}
				w := newTable(cmd, "ID\tNAME\tSTATUS\tCAPABILITIES")
				for _, a := range agents {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Status, strings.Join(a.Capabilities, ", "))
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a single agent",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := opts.client()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				a, err := client.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return printJSON(cmd, a)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:           %s\n", a.ID)
				fmt.Fprintf(out, "Name:         %s\n", a.Name)
				fmt.Fprintf(out, "Status:       %s\n", a.Status)
				fmt.Fprintf(out, "Description:  %s\n", a.Description)
				fmt.Fprintf(out, "Capabilities: %s\n", strings.Join(a.Capabilities, ", "))
				return nil
			},
		},
	)
	return cmd
}

func dispatchCmd(opts *globalOptions) *cobra.Command {
	var (
		title       string
		description string
	)
	cmd := &cobra.Command{
		Use:   "dispatch <agent>",
		Short: "Run an agent synchronously and print the finished task",
		Example: `  sentinelctl dispatch analyzer --title "Vault review" --description "withdraw() calls out first"
  sentinelctl dispatch scraper -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			task, err := client.Dispatch(ctx, sentinel.DispatchRequest{
				AgentType: args[0],
				Task:      sentinel.TaskInput{Title: title, Description: description},
			})
			var apiErr *sentinel.APIError
			if errors.As(err, &apiErr) && apiErr.Task != nil {
				_ = printTask(cmd, opts, *apiErr.Task)
				return err
			}
			if err != nil {
				return err
			}
			return printTask(cmd, opts, task)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	return cmd
}

func historyCmd(opts *globalOptions) *cobra.Command {
	var (
		agentFilter string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished agent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			tasks, err := client.History(ctx, agentFilter, limit)
			if err != nil {
				return err
			}
			if opts.jsonOutput() {
				return printJSON(cmd, tasks)
			}
			w := newTable(cmd, "ID\tAGENT\tSTATUS\tCREATED\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.AgentID, t.Status, t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&agentFilter, "agent", "", "only show tasks of this agent")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of tasks")
	return cmd
}

func printTask(cmd *cobra.Command, opts *globalOptions, task sentinel.Task) error {
	if opts.jsonOutput() {
		return printJSON(cmd, task)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:    %s\n", task.ID)
	fmt.Fprintf(out, "Agent:   %s\n", task.AgentID)
	fmt.Fprintf(out, "Status:  %s\n", task.Status)
	if task.Error != "" {
		fmt.Fprintf(out, "Error:   %s\n", task.Error)
	}
	if len(task.Result) > 0 {
		fmt.Fprintf(out, "Result:  %s\n", task.Result)
	}
	return nil
}
