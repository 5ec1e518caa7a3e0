package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/config"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/db"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/events"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/lock"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/materialize"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/series"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/stops"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app bundles the wired services every command works through.
type app struct {
	cfg         *config.Config
	db          *gorm.DB
	log         *logger.Logger
	store       *store.Store
	stops       *stops.Service
	series      *series.Service
	materialize *materialize.Service
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}

	return cfg, gormDB, nil
}

// openApp loads config, connects and wires every service.
func openApp(configPath string) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.File)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	locks, err := lock.New(cfg.Lock, gormDB, log)
	if err != nil {
		return nil, fmt.Errorf("init locks: %w", err)
	}
	bus, err := events.FromConfig(cfg.Notify, gormDB, log)
	if err != nil {
		return nil, fmt.Errorf("init event sinks: %w", err)
	}

	st := store.New(gormDB)
	return &app{
		cfg:   cfg,
		db:    gormDB,
		log:   log,
		store: st,
		stops: stops.NewService(stops.Deps{
			Store:  st,
			Gap:    cfg.Ordering.Gap,
			Locks:  locks,
			Events: bus,
			Log:    log,
		}),
		series: series.NewService(series.Deps{
			Store:  st,
			Gap:    cfg.Ordering.Gap,
			Locks:  locks,
			Events: bus,
			Log:    log,
		}),
		materialize: materialize.NewService(materialize.Deps{
			Store:       st,
			Gap:         cfg.Ordering.Gap,
			Concurrency: cfg.Materialize.Concurrency,
			Locks:       locks,
			Events:      bus,
			Log:         log,
		}),
	}, nil
}

func (a *app) close() {
	a.log.Sync()
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
