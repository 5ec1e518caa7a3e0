package main

import (
	"fmt"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/scheduler"
	"github.com/spf13/cobra"
)

func newSchedulerCmd() *cobra.Command {
	var (
		configPath string
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the nightly materialization job",
		Long: `Runs the materialization job on materialize.schedule (a 5-field cron
expression in materialize.timezone). Each pass materializes today through
materialize.horizon_days ahead for every company with active series.
Interrupted reorders are repaired on startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd, configPath, once)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}

func newScheduler(a *app) *scheduler.Scheduler {
	return scheduler.New(a.cfg.Materialize, a.cfg.Location(), a.materialize, a.stops, a.store, a.log)
}

func runScheduler(cmd *cobra.Command, configPath string, once bool) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	s := newScheduler(a)
	if !once {
		fmt.Fprintf(cmd.OutOrStdout(), "Scheduler running on %q (%s)\n", a.cfg.Materialize.Schedule, a.cfg.Location())
		return s.Run(ctx)
	}

	sum, err := s.RunOnce(ctx)
	if sum != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Materialized %s..%s for %d companies: %d created, %d updated, %d skipped, %d failed\n",
			fmtDay(sum.From), fmtDay(sum.To), sum.Companies, sum.Created, sum.Updated, sum.Skipped, sum.Failures)
	}
	return err
}
