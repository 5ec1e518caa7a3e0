package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/series"
	"github.com/spf13/cobra"
)

func newSeriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Route series management commands",
	}

	cmd.AddCommand(newSeriesCreateCmd())
	cmd.AddCommand(newSeriesListCmd())
	cmd.AddCommand(newSeriesShowCmd())
	cmd.AddCommand(newSeriesAddChildCmd())
	cmd.AddCommand(newSeriesRemoveChildCmd())
	cmd.AddCommand(newSeriesCancelCmd())
	return cmd
}

func newSeriesCreateCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
		name       string
		driverID   string
		vehicleID  string
		start      string
		end        string
		startDate  string
		endDate    string
		interval   int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a recurring route series",
		Long:  "Creates an ACTIVE series running on the weekday of --start-date every --interval weeks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			req := series.CreateRequest{
				CompanyID:          companyID,
				Name:               name,
				DriverID:           driverID,
				VehicleID:          vehicleID,
				EstimatedStartTime: start,
				EstimatedEndTime:   end,
				RecurrenceInterval: interval,
			}
			if req.StartDate, err = models.ParseDay(startDate); err != nil {
				return fmt.Errorf("invalid --start-date: %w", err)
			}
			if endDate != "" {
				d, err := models.ParseDay(endDate)
				if err != nil {
					return fmt.Errorf("invalid --end-date: %w", err)
				}
				req.EndDate = &d
			}
			rs, err := a.series.Create(context.Background(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created series %s (%s every %d week(s) from %s)\n",
				rs.ID, rs.StartDate.Weekday(), rs.RecurrenceInterval, fmtDay(rs.StartDate))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "series name (required)")
	cmd.Flags().StringVar(&driverID, "driver", "", "driver ID")
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "vehicle ID")
	cmd.Flags().StringVar(&start, "start", "07:00", "estimated start time, HH:MM")
	cmd.Flags().StringVar(&end, "end", "09:00", "estimated end time, HH:MM")
	cmd.Flags().StringVar(&startDate, "start-date", "", "first occurrence, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "last possible occurrence, YYYY-MM-DD")
	cmd.Flags().IntVar(&interval, "interval", 1, "weeks between occurrences (1-4)")
	cmd.MarkFlagRequired("company")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("start-date")
	return cmd
}

func newSeriesListCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List series of a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			list, err := a.series.List(context.Background(), companyID, status)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No series found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tWEEKDAY\tEVERY\tSTART\tEND")
			for _, rs := range list {
				end := "-"
				if rs.EndDate != nil {
					end = fmtDay(*rs.EndDate)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dw\t%s\t%s\n",
					rs.ID, rs.SeriesName, rs.Status, rs.StartDate.Weekday(), rs.RecurrenceInterval, fmtDay(rs.StartDate), end)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (ACTIVE, CANCELLED)")
	cmd.MarkFlagRequired("company")
	return cmd
}

func newSeriesShowCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
	)

	cmd := &cobra.Command{
		Use:   "show <series-id>",
		Short: "Show a series with its membership history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			rs, err := a.series.Get(context.Background(), companyID, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Series %s: %s [%s]\n", rs.ID, rs.SeriesName, rs.Status)
			fmt.Fprintf(out, "Runs %s every %d week(s), %s-%s, driver %s, vehicle %s\n",
				rs.StartDate.Weekday(), rs.RecurrenceInterval, rs.EstimatedStartTime, rs.EstimatedEndTime, rs.DriverID, rs.VehicleID)
			if len(rs.Schedules) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE\tCHILD\tPICKUP\tDROPOFF\tFROM\tTO")
			for _, m := range rs.Schedules {
				to := "open"
				if m.ValidTo != nil {
					to = fmtDay(*m.ValidTo)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", m.ScheduleID, m.ChildID, m.PickupStopOrder, m.DropoffStopOrder, fmtDay(m.ValidFrom), to)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.MarkFlagRequired("company")
	return cmd
}

func newSeriesAddChildCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
		scheduleID string
		from       string
		accept     bool
	)

	cmd := &cobra.Command{
		Use:   "add-child <series-id>",
		Short: "Add a child schedule to a series",
		Long: `Adds a child schedule to a series from --from. When the schedule already
joins the series later, the request is rejected with the last day it could
run until; pass --accept-narrowed to store that narrowed window instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			day, err := models.ParseDay(from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			res, err := a.series.AddChild(context.Background(), series.AddChildRequest{
				CompanyID:      companyID,
				SeriesID:       args[0],
				ScheduleID:     scheduleID,
				EffectiveFrom:  day,
				AcceptNarrowed: accept,
			})
			if err != nil {
				return err
			}
			if c, ok := res.Resolution.(series.Conflict); ok && res.Membership == nil {
				return fmt.Errorf("%s (could run until %s; retry with --accept-narrowed)", c.Message, fmtDay(c.LimitedTo))
			}
			to := "open"
			if res.Membership.ValidTo != nil {
				to = fmtDay(*res.Membership.ValidTo)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added schedule %s to series %s: %s..%s\n",
				scheduleID, args[0], fmtDay(res.Membership.ValidFrom), to)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&scheduleID, "schedule", "", "schedule ID (required)")
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (required)")
	cmd.Flags().BoolVar(&accept, "accept-narrowed", false, "store a narrowed window on conflict")
	cmd.MarkFlagRequired("company")
	cmd.MarkFlagRequired("schedule")
	cmd.MarkFlagRequired("from")
	return cmd
}

func newSeriesRemoveChildCmd() *cobra.Command {
	var (
		configPath   string
		companyID    string
		scheduleID   string
		lastDay      string
		cancelFuture bool
	)

	cmd := &cobra.Command{
		Use:   "remove-child <series-id>",
		Short: "End a child schedule's membership in a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			day, err := models.ParseDay(lastDay)
			if err != nil {
				return fmt.Errorf("invalid --last-day: %w", err)
			}
			res, err := a.series.RemoveChild(context.Background(), series.RemoveChildRequest{
				CompanyID:         companyID,
				SeriesID:          args[0],
				ScheduleID:        scheduleID,
				LastDay:           day,
				CancelFutureStops: cancelFuture,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s now runs %s..%s; %d future stops cancelled\n",
				scheduleID, fmtDay(res.Resolution.EffectiveFrom), fmtDay(*res.Resolution.EffectiveTo), res.CancelledStops)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&scheduleID, "schedule", "", "schedule ID (required)")
	cmd.Flags().StringVar(&lastDay, "last-day", "", "last day the child rides, YYYY-MM-DD (required)")
	cmd.Flags().BoolVar(&cancelFuture, "cancel-future-stops", false, "cancel the child's stops on planned routes after --last-day")
	cmd.MarkFlagRequired("company")
	cmd.MarkFlagRequired("schedule")
	cmd.MarkFlagRequired("last-day")
	return cmd
}

func newSeriesCancelCmd() *cobra.Command {
	var (
		configPath   string
		companyID    string
		by           string
		reason       string
		from         string
		cancelRoutes bool
	)

	cmd := &cobra.Command{
		Use:   "cancel <series-id>",
		Short: "Cancel a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			req := series.CancelRequest{
				CompanyID:          companyID,
				SeriesID:           args[0],
				By:                 by,
				Reason:             reason,
				CancelFutureRoutes: cancelRoutes,
			}
			if from != "" {
				d, err := models.ParseDay(from)
				if err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
				req.EffectiveFrom = &d
			}
			n, err := a.series.Cancel(context.Background(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled series %s; %d planned routes cancelled\n", args[0], n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&by, "by", "cli", "who cancels the series")
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	cmd.Flags().StringVar(&from, "from", "", "first day the series no longer runs, YYYY-MM-DD")
	cmd.Flags().BoolVar(&cancelRoutes, "cancel-future-routes", false, "cancel already materialized planned routes")
	cmd.MarkFlagRequired("company")
	return cmd
}
