// Package main provides the daedalus CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/daedalus/cli"
)

var (
	// Global flags
	file      string
	tracePath string
	workers   int
	verbose   bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "daedalus",
		Short: "Recursive language model completions over large contexts",
		Long: `Answers a natural-language query over an arbitrarily large text context by
letting the model drive an iterative search and decomposition loop: it peeks,
greps, partitions and recursively delegates sub-questions instead of reading
the whole context at once.

Reads one JSON request from stdin (or --file) and writes one JSON response:

  {"model": "...", "query": "...", "context": "...", "config": {"api_key": "..."}}`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.Options{
				File:      file,
				TracePath: tracePath,
				Workers:   workers,
				Verbose:   verbose,
			}
			return cli.Run(context.Background(), opts)
		},
	}

	rootCmd.Flags().StringVarP(&file, "file", "f", "", "Read the request from a file instead of stdin")
	rootCmd.Flags().StringVar(&tracePath, "trace", "", "Persist the run trace to a sqlite file")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "Bound on concurrent sub-query workers (0 = default)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show debug output on stderr")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
