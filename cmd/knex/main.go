// Package main is the entry point for the knex CLI, a thin shell
// over the client: it loads a knexfile, opens a pooled client and
// drives raw queries through the core.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	knex "github.com/sam-lord/knex"
)

var (
	// Version information (set by build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func run() error {
	var knexfile string

	rootCmd := &cobra.Command{
		Use:     "knex",
		Short:   "SQL query builder and execution runtime",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
	}
	rootCmd.PersistentFlags().StringVarP(&knexfile, "knexfile", "f", "", "path to the knexfile")

	rootCmd.AddCommand(newPingCommand(&knexfile))
	rootCmd.AddCommand(newExecCommand(&knexfile))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("knex version %s (commit: %s)\n", Version, Commit)
		},
	})

	return rootCmd.Execute()
}

func openClient(knexfile string) (*knex.Client, error) {
	cfg, err := knex.LoadConfig(knexfile)
	if err != nil {
		return nil, err
	}
	return knex.New(cfg)
}

func newPingCommand(knexfile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Open a pooled connection and validate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(*knexfile)
			if err != nil {
				return err
			}
			defer client.Destroy()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			start := time.Now()
			if err := client.Ping(ctx); err != nil {
				return err
			}
			pterm.Success.Printfln("%s reachable in %s", client.Dialect().Name, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newExecCommand(knexfile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <sql> [binding...]",
		Short: "Run a raw SQL statement and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(*knexfile)
			if err != nil {
				return err
			}
			defer client.Destroy()

			bindings := make([]interface{}, 0, len(args)-1)
			for _, a := range args[1:] {
				bindings = append(bindings, a)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			result, err := client.Raw(args[0], bindings...).Exec(ctx)
			if err != nil {
				return err
			}
			if len(result.Rows) == 0 {
				pterm.Info.Printfln("%d row(s) affected", result.Affected)
				return nil
			}

			headers := result.Columns
			if len(headers) == 0 {
				for col := range result.Rows[0] {
					headers = append(headers, col)
				}
				sort.Strings(headers)
			}
			table := pterm.TableData{headers}
			for _, row := range result.Rows {
				line := make([]string, len(headers))
				for i, col := range headers {
					line[i] = fmt.Sprintf("%v", row[col])
				}
				table = append(table, line)
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		},
	}
}
