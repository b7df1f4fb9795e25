package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reconciler.transitchat.org/gtfsdb"
	"reconciler.transitchat.org/internal/app"
	"reconciler.transitchat.org/internal/appconf"
	"reconciler.transitchat.org/internal/clock"
	"reconciler.transitchat.org/internal/logging"
	"reconciler.transitchat.org/internal/metrics"
	"reconciler.transitchat.org/internal/models"
	"reconciler.transitchat.org/internal/reconcile"
	"reconciler.transitchat.org/internal/rtfeed"
	"reconciler.transitchat.org/internal/snapshot"
)

// buildApplication assembles the application container from configuration.
func buildApplication(ctx context.Context, cfg appconf.Config) (*app.Application, error) {
	logger := logging.NewLogger(cfg.Env, cfg.Verbose)
	slog.SetDefault(logger)

	agencies, err := models.LoadAgencies(cfg.AgenciesPath)
	if err != nil {
		return nil, fmt.Errorf("loading agencies: %w", err)
	}

	store, err := gtfsdb.NewClient(gtfsdb.NewConfig(cfg.DBPath, cfg.Env, cfg.Verbose))
	if err != nil {
		return nil, fmt.Errorf("opening schedule store: %w", err)
	}

	m := metrics.NewWithLogger(logger)
	m.StartDBStatsCollector(store.DB, 15*time.Second)

	if err := prepareSchedules(ctx, cfg, store, agencies, logger); err != nil {
		store.Close()
		return nil, err
	}

	clk := clock.RealClock{}
	feeds := rtfeed.NewClient(cfg.FeedRatePerMinute, logger)

	return &app.Application{
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
		Clock:      clk,
		Store:      store,
		Agencies:   agencies,
		Reconciler: reconcile.New(store, feeds, clk, m, logger, reconcile.Options{}),
		Snapshots:  snapshot.NewWriter(cfg.SnapshotDir, logger),
	}, nil
}

// prepareSchedules imports each agency's static feed when requested, and
// always primes the stop spatial index from whatever the store holds.
func prepareSchedules(ctx context.Context, cfg appconf.Config, store *gtfsdb.Client, agencies []models.AgencyConfig, logger *slog.Logger) error {
	for _, agency := range agencies {
		if cfg.ImportStatic && agency.StaticURL != "" {
			logging.LogOperation(logger, "importing_static_gtfs",
				slog.String("agency_id", agency.ID),
				slog.String("url", agency.StaticURL))
			if err := store.DownloadAndStore(ctx, agency.ID, agency.StaticURL, agency.Exclude); err != nil {
				return fmt.Errorf("importing static GTFS for %s: %w", agency.ID, err)
			}
			continue
		}
		if err := store.RebuildStopIndex(ctx, agency.ID); err != nil {
			return fmt.Errorf("building stop index for %s: %w", agency.ID, err)
		}
	}
	return nil
}
