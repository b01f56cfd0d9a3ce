// sentinelctl 是 Web3 Sentinel 的命令行客户端。
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"Web3-Sentinel/sdk/go/sentinel"
)

var version = "dev"

type globalOptions struct {
	addr    string
	token   string
	output  string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "sentinelctl",
		Short:        "Web3 Sentinel command line client",
		Version:      version,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.addr, "addr", envOr("SENTINEL_ADDR", "http://localhost:8080"), "server base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("SENTINEL_TOKEN"), "bearer token")
	flags.StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")

	root.AddCommand(
		agentsCmd(opts),
		dispatchCmd(opts),
		historyCmd(opts),
		tasksCmd(opts),
		catalogCmd(opts),
		tokenCmd(),
	)
	return root
}

func (o *globalOptions) client() (*sentinel.Client, error) {
	client, err := sentinel.NewClient(o.addr, nil)
	if err != nil {
		return nil, err
	}
	client.SetAccessToken(o.token)
	return client, nil
}

func (o *globalOptions) jsonOutput() bool {
	return o.output == "json"
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func newTable(cmd *cobra.Command, header string) *tabwriter.Writer {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, header)
	return w
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format(time.DateTime)
}
