package main

import (
	"github.com/gin-gonic/gin"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath    string
		port          int
		withScheduler bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serves the routing API. With --scheduler the nightly materialization job runs in the same process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, withScheduler)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to routeops config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "also run the materialization scheduler")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, withScheduler bool) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	if port <= 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	gin.SetMode(gin.ReleaseMode)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Start(gctx, api.StartOpts{
			DB:          a.db,
			Stops:       a.stops,
			Series:      a.series,
			Materialize: a.materialize,
			Log:         a.log,
			Port:        port,
			Out:         cmd.OutOrStdout(),
		})
	})
	if withScheduler {
		g.Go(func() error {
			return newScheduler(a).Run(gctx)
		})
	}
	return g.Wait()
}
