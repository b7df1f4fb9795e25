// Package app wires the reconciler's components into one application
// container shared by the command entry point and tests.
package app

import (
	"context"
	"log/slog"

	"reconciler.transitchat.org/gtfsdb"
	"reconciler.transitchat.org/internal/appconf"
	"reconciler.transitchat.org/internal/clock"
	"reconciler.transitchat.org/internal/logging"
	"reconciler.transitchat.org/internal/metrics"
	"reconciler.transitchat.org/internal/models"
	"reconciler.transitchat.org/internal/reconcile"
	"reconciler.transitchat.org/internal/snapshot"
)

// Application aggregates the long-lived dependencies of the reconciler
// process.
type Application struct {
	Config     appconf.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Clock      clock.Clock
	Store      *gtfsdb.Client
	Agencies   []models.AgencyConfig
	Reconciler *reconcile.Reconciler
	Snapshots  *snapshot.Writer
}

// ReconcileAgency runs one pass for the agency and persists every
// snapshot it yields. Write failures are logged per snapshot; a pass
// failure is returned to the caller.
func (a *Application) ReconcileAgency(ctx context.Context, agency models.AgencyConfig) error {
	snapshots, err := a.Reconciler.Run(ctx, agency)
	if err != nil {
		return err
	}

	for _, snap := range snapshots {
		if _, err := a.Snapshots.Write(snap, a.Clock.Now()); err != nil {
			logging.LogError(a.Logger, "failed to write snapshot", err,
				slog.String("agency_id", agency.ID),
				slog.String("kind", snap.Kind.String()))
		}
	}
	return nil
}

// Shutdown releases the application's resources.
func (a *Application) Shutdown() {
	a.Metrics.Shutdown()
	if err := a.Store.Close(); err != nil {
		logging.LogError(a.Logger, "failed to close schedule store", err)
	}
}
