package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/stops"
	"github.com/spf13/cobra"
)

func newRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Route and stop management commands",
	}

	cmd.AddCommand(newRouteStopsCmd())
	cmd.AddCommand(newRouteReorderCmd())
	cmd.AddCommand(newRouteAddScheduleCmd())
	cmd.AddCommand(newRouteCancelScheduleCmd())
	cmd.AddCommand(newRouteStatusCmd())
	return cmd
}

func printStops(cmd *cobra.Command, list []models.RouteStop) error {
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stops.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tID\tTYPE\tSCHEDULE\tCHILD\tTIME\tSTATE")
	for _, s := range list {
		state := "active"
		switch {
		case s.IsCancelled:
			state = "cancelled"
		case s.ExecutionStatus != nil:
			state = strings.ToLower(*s.ExecutionStatus)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.StopOrder, s.ID, s.StopType, s.ScheduleID, s.ChildID, s.EstimatedTime.Format("15:04"), state)
	}
	return w.Flush()
}

func newRouteStopsCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "stops <route-id>",
		Short: "List the stops of a route in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			list, err := a.stops.ListStops(context.Background(), companyID, args[0], all)
			if err != nil {
				return err
			}
			return printStops(cmd, list)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().BoolVar(&all, "all", false, "include cancelled stops")
	cmd.MarkFlagRequired("company")
	return cmd
}

// parseRanks turns "stopID=rank" pairs into rank updates.
func parseRanks(pairs []string) ([]stops.RankUpdate, error) {
	out := make([]stops.RankUpdate, 0, len(pairs))
	for _, p := range pairs {
		id, rank, ok := strings.Cut(p, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid rank %q, want <stop-id>=<rank>", p)
		}
		n, err := strconv.Atoi(rank)
		if err != nil {
			return nil, fmt.Errorf("invalid rank %q: %w", p, err)
		}
		out = append(out, stops.RankUpdate{StopID: id, Rank: n})
	}
	return out, nil
}

func newRouteReorderCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
	)

	cmd := &cobra.Command{
		Use:   "reorder <route-id> <stop-id>=<rank>...",
		Short: "Reorder every active stop of a route",
		Long:  "Assigns each active stop its 1-based rank. Every active stop must be listed exactly once.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ranks, err := parseRanks(args[1:])
			if err != nil {
				return err
			}
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			if err := a.stops.Reorder(ctx, companyID, args[0], ranks); err != nil {
				return err
			}
			list, err := a.stops.ListStops(ctx, companyID, args[0], false)
			if err != nil {
				return err
			}
			return printStops(cmd, list)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.MarkFlagRequired("company")
	return cmd
}

func newRouteAddScheduleCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
		scheduleID string
		after      int
	)

	cmd := &cobra.Command{
		Use:   "add-schedule <route-id>",
		Short: "Add a child schedule's pickup and dropoff to a planned route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			req := stops.AddScheduleRequest{CompanyID: companyID, RouteID: args[0], ScheduleID: scheduleID}
			if cmd.Flags().Changed("after") {
				req.AfterOrder = &after
			}
			added, err := a.stops.AddScheduleToRoute(context.Background(), req)
			if err != nil {
				return err
			}
			return printStops(cmd, added)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&scheduleID, "schedule", "", "schedule ID (required)")
	cmd.Flags().IntVar(&after, "after", 0, "stop order key to insert after (default: head of route)")
	cmd.MarkFlagRequired("company")
	cmd.MarkFlagRequired("schedule")
	return cmd
}

func newRouteCancelScheduleCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
		scheduleID string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "cancel-schedule <route-id>",
		Short: "Cancel a child schedule's stops on a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			cancelled, err := a.stops.CancelScheduleInRoute(context.Background(), companyID, args[0], scheduleID, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d stops of schedule %s\n", len(cancelled), scheduleID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.Flags().StringVar(&scheduleID, "schedule", "", "schedule ID (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	cmd.MarkFlagRequired("company")
	cmd.MarkFlagRequired("schedule")
	return cmd
}

func newRouteStatusCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
	)

	cmd := &cobra.Command{
		Use:   "status <route-id> <status>",
		Short: "Move a route to IN_PROGRESS, COMPLETED or CANCELLED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.stops.TransitionRoute(context.Background(), companyID, args[0], strings.ToUpper(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Route %s is now %s\n", r.ID, r.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().StringVar(&companyID, "company", "", "company ID (required)")
	cmd.MarkFlagRequired("company")
	return cmd
}
