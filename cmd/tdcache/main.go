package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCmd().ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "tdcache",
		Short: "Temporal fact index and cache",
		Long: `tdcache - an index of facts valid over closed time intervals,
backed by a pluggable object store.

Commands:
  tdcache serve            Run the cache with cleanup and metrics
  tdcache check <file>     Load a fact file and verify the index
  tdcache lookup <file>    Query a fact file at points in time
  tdcache bench            Run a random workload against the cache`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json, yaml, markdown)")
	_ = v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd(v))
	rootCmd.AddCommand(newLookupCmd(v))
	rootCmd.AddCommand(newBenchCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
