// Package main provides the rankeval command line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rankeval/rankeval/internal/experiment"
	"github.com/rankeval/rankeval/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rankeval",
		Short: "rankeval - effectiveness analysis for tree-ensemble ranking models",
		Long: `rankeval evaluates ranking models built as additive tree ensembles.

An experiment manifest names the datasets, models, metrics and analyses to
run. Every analysis produces a labeled tensor stored under
<run-id>/<analysis>.

Examples:
  rankeval run experiment.yaml
  rankeval list
  rankeval show 6f1c.../model_performance --format table`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		runCmd(),
		showCmd(),
		listCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <manifest>",
		Short: "Run the analyses of an experiment manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := experiment.LoadManifest(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rec, err := a.runner.Run(ctx, m)
			if err != nil {
				return err
			}

			if format(cmd) == "json" {
				return writeJSON(cmd, rec)
			}
			printRun(cmd.OutOrStdout(), rec)
			if rec.Failed() > 0 {
				return fmt.Errorf("%d of %d analyses failed", rec.Failed(), len(rec.Analyses))
			}
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Print a stored result or run record",
		Long: `Print a stored result tensor, or the record of a run when the key is a
run id. The text format lists one cell per line; json prints the tensor as
stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			key := args[0]
			if !containsSlash(key) {
				key = store.RunKey(key)
			}

			if store.IsRunKey(key) {
				rec, err := a.results.LoadRun(ctx, trimRunKey(key))
				if err != nil {
					return err
				}
				if format(cmd) == "json" {
					return writeJSON(cmd, rec)
				}
				printRun(cmd.OutOrStdout(), rec)
				return nil
			}

			t, err := a.results.LoadTensor(ctx, key)
			if err != nil {
				return err
			}
			if format(cmd) == "json" {
				return writeJSON(cmd, t)
			}
			return printTensor(cmd.OutOrStdout(), t)
		},
	}
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [prefix]",
		Short: "List stored runs, or the results under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			var keys []string
			if len(args) == 0 {
				keys, err = a.results.ListRuns(ctx)
			} else {
				keys, err = a.results.ListResults(ctx, args[0])
			}
			if err != nil {
				return err
			}

			if format(cmd) == "json" {
				return writeJSON(cmd, keys)
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rankeval %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

func format(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("format")
	return f
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
