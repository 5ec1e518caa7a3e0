package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/materialize"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/spf13/cobra"
)

func newMaterializeCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
		seriesID   string
		from       string
		to         string
		force      bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Materialize series into routes for a date range",
		Long: `Builds a route for every occurrence of the company's active series in
[from, to]. Dates already materialized are skipped unless --force is given,
in which case their PLANNED routes are rebuilt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaterialize(cmd, configPath, companyID, seriesID, from, to, force, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&seriesID, "series", "", "limit to one series")
	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD (default from + horizon)")
	cmd.Flags().BoolVar(&force, "force", false, "rebuild dates that are already materialized")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every processed occurrence")
	cmd.MarkFlagRequired("company")
	return cmd
}

func runMaterialize(cmd *cobra.Command, configPath, companyID, seriesID, fromStr, toStr string, force, verbose bool) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	from, to, err := dateRange(fromStr, toStr, a.cfg.Materialize.HorizonDays, time.Now().In(a.cfg.Location()))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var res *materialize.Result
	if seriesID != "" {
		res, err = a.materialize.MaterializeSeries(ctx, companyID, seriesID, from, to, force)
	} else {
		res, err = a.materialize.MaterializeForDateRange(ctx, companyID, from, to, force)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Materialized %s..%s: %d created, %d updated, %d skipped, %d failed\n",
		fmtDay(from), fmtDay(to), res.RoutesCreated, res.RoutesUpdated, res.RoutesSkipped, len(res.Failures))
	if verbose && len(res.Occurrences) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERIES\tDATE\tOUTCOME\tROUTE\tREASON")
		for _, o := range res.Occurrences {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.SeriesID, fmtDay(o.Date), o.Outcome, o.RouteID, o.SkipReason)
		}
		w.Flush()
	}
	for _, f := range res.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed: series %s %s: %v\n", f.SeriesID, fmtDay(f.Date), f.Err)
	}
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d occurrences failed", len(res.Failures))
	}
	return nil
}

// dateRange resolves the --from/--to flags. from defaults to today and to
// defaults to horizon days after from.
func dateRange(fromStr, toStr string, horizon int, now time.Time) (time.Time, time.Time, error) {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if fromStr != "" {
		d, err := models.ParseDay(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		from = d
	}
	to := from.AddDate(0, 0, horizon)
	if toStr != "" {
		d, err := models.ParseDay(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		to = d
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", fmtDay(to), fmtDay(from))
	}
	return from, to, nil
}

func fmtDay(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(models.DateLayout)
}
