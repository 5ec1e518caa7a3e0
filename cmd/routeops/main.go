package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "routeops.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "routeops",
		Short:        "Routeops: recurring route materialization and stop ordering",
		Long:         "Routeops maintains stop order on transport routes and materializes recurring route series into dated routes.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSchedulerCmd())
	cmd.AddCommand(newMaterializeCmd())
	cmd.AddCommand(newRepairCmd())
	cmd.AddCommand(newSeriesCmd())
	cmd.AddCommand(newRouteCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "routeops %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
