package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"Web3-Sentinel/sdk/go/sentinel"
)

func catalogCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse and extend the threat, report and tool catalog",
	}
	cmd.AddCommand(threatsCmd(opts), reportsCmd(opts), toolsCmd(opts))
	return cmd
}

// readRecord 从文件或标准输入（"-"）读取 JSON 记录。
func readRecord(cmd *cobra.Command, path string, out any) error {
	if path == "-" {
		return json.NewDecoder(cmd.InOrStdin()).Decode(out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func threatsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "threats", Short: "Tracked threats"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List threats",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := opts.client()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				threats, err := client.ListThreats(ctx)
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return printJSON(cmd, threats)
				}
				w := newTable(cmd, "ID\tSEVERITY\tSTATUS\tCATEGORY\tTITLE")
				for _, t := range threats {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Severity, t.Status, t.Category, t.Title)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "add <file|->",
			Short: "Record a threat from a JSON document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var threat sentinel.Threat
				if err := readRecord(cmd, args[0], &threat); err != nil {
					return err
				}
				client, err := opts.client()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				created, err := client.AddThreat(ctx, threat)
				if err != nil {
					return err
				}
				return printJSON(cmd, created)
			},
		},
	)
	return cmd
}

func reportsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "reports", Short: "Security reports"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List reports",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := opts.client()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				reports, err := client.ListReports(ctx)
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return printJSON(cmd, reports)
				}
				w := newTable(cmd, "ID\tTYPE\tTHREATS\tTITLE")
				for _, r := range reports {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Type, strings.Join(r.Threats, ","), r.Title)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "add <file|->",
			Short: "Store a report from a JSON document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var report sentinel.Report
				if err := readRecord(cmd, args[0], &report); err != nil {
					return err
				}
				client, err := opts.client()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				created, err := client.AddReport(ctx, report)
				if err != nil {
					return err
				}
				return printJSON(cmd, created)
			},
		},
	)
	return cmd
}

func toolsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "tools", Short: "Security tool catalog"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List tools",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := opts.client()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				tools, err := client.ListTools(ctx)
				if err != nil {
					return err
				}
				if opts.jsonOutput() {
					return printJSON(cmd, tools)
				}
				w := newTable(cmd, "ID\tCATEGORY\tCUSTOM\tNAME")
				for _, t := range tools {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", t.ID, t.Category, t.IsCustom, t.Name)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "add <file|->",
			Short: "Register a tool from a JSON document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var tool sentinel.Tool
				if err := readRecord(cmd, args[0], &tool); err != nil {
					return err
				}
				client, err := opts.client()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				created, err := client.AddTool(ctx, tool)
				if err != nil {
					return err
				}
				return printJSON(cmd, created)
			},
		},
	)
	return cmd
}
