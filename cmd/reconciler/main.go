package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"reconciler.transitchat.org/internal/app"
	"reconciler.transitchat.org/internal/appconf"
	"reconciler.transitchat.org/internal/logging"
)

func main() {
	var (
		envFlag       = flag.String("env", "development", "Application environment: development, production, or test")
		verbose       = flag.Bool("verbose", false, "Enable verbose logging")
		port          = flag.Int("port", 4000, "Ops listener port (health, metrics, debug)")
		agenciesPath  = flag.String("agencies", "agencies.yml", "Path to the agency configuration file")
		dbPath        = flag.String("db", "schedule.db", "Path to the SQLite schedule store")
		snapshotDir   = flag.String("snapshot-dir", "snapshots", "Directory for partitioned snapshot output")
		pollInterval  = flag.Duration("poll-interval", 30*time.Second, "Interval between reconciliation passes")
		ratePerMinute = flag.Int("feed-rate", 60, "Maximum feed fetches per minute")
		importStatic  = flag.Bool("import-static", false, "Download and import each agency's static GTFS feed at startup")
	)
	flag.Parse()

	cfg := appconf.Config{
		Env:               appconf.EnvFlagToEnvironment(*envFlag),
		Verbose:           *verbose,
		Port:              *port,
		AgenciesPath:      *agenciesPath,
		DBPath:            *dbPath,
		SnapshotDir:       *snapshotDir,
		PollInterval:      *pollInterval,
		FeedRatePerMinute: *ratePerMinute,
		ImportStatic:      *importStatic,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := buildApplication(ctx, cfg)
	if err != nil {
		slog.Error("failed to build application", slog.Any("error", err))
		os.Exit(1)
	}
	defer application.Shutdown()

	if err := run(ctx, application); err != nil {
		logging.LogError(application.Logger, "reconciler exited with error", err)
		os.Exit(1)
	}
}

// run starts the ops listener and drives the poll loop until the context
// is canceled.
func run(ctx context.Context, a *app.Application) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Port),
		Handler:           opsHandler(a),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogOperation(a.Logger, "ops_listener_started",
			slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(a.Config.PollInterval)
	defer ticker.Stop()

	logging.LogOperation(a.Logger, "poll_loop_started",
		slog.Duration("interval", a.Config.PollInterval),
		slog.Int("agencies", len(a.Agencies)))

	// first pass immediately; subsequent passes on the ticker
	reconcileAll(ctx, a)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return fmt.Errorf("ops listener: %w", err)
		case <-ticker.C:
			reconcileAll(ctx, a)
		}
	}
}

// reconcileAll runs one pass per agency. Agencies are independent and run
// concurrently; entities within an agency stay sequential inside the pass.
func reconcileAll(ctx context.Context, a *app.Application) {
	var wg sync.WaitGroup
	for _, agency := range a.Agencies {
		agency := agency
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.ReconcileAgency(ctx, agency); err != nil {
				logging.LogError(a.Logger, "reconciliation pass failed", err,
					slog.String("agency_id", agency.ID))
			}
		}()
	}
	wg.Wait()
}
