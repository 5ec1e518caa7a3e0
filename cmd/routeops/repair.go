package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRepairCmd() *cobra.Command {
	var (
		configPath string
		routeID    string
	)

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Finish reorders interrupted between their two phases",
		Long: `Scans for routes left with temporary negative stop keys by an
interrupted reorder and completes them, from the saved journal when one
exists or by renumbering the current order otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(cmd, configPath, routeID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&routeID, "route", "", "repair a single route")
	return cmd
}

func runRepair(cmd *cobra.Command, configPath, routeID string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd)
	defer cancel()
	out := cmd.OutOrStdout()

	if routeID != "" {
		repaired, err := a.stops.Repair(ctx, routeID)
		if err != nil {
			return err
		}
		if repaired {
			fmt.Fprintf(out, "Repaired route %s\n", routeID)
		} else {
			fmt.Fprintf(out, "Route %s needed no repair\n", routeID)
		}
		return nil
	}

	repaired, err := a.stops.RepairAll(ctx)
	for _, id := range repaired {
		fmt.Fprintf(out, "Repaired route %s\n", id)
	}
	fmt.Fprintf(out, "%d routes repaired\n", len(repaired))
	return err
}
