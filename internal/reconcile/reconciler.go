package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"

	"reconciler.transitchat.org/gtfsdb"
	"reconciler.transitchat.org/internal/clock"
	"reconciler.transitchat.org/internal/logging"
	"reconciler.transitchat.org/internal/metrics"
	"reconciler.transitchat.org/internal/models"
)

// FeedSource yields decoded feed entities for a URL. A decode failure must
// surface as an error wrapping rtfeed.ErrDecode so the pass aborts.
type FeedSource interface {
	FetchEntities(ctx context.Context, url string) ([]*gtfsrtpb.FeedEntity, error)
}

// Options carries the swappable policies of a Reconciler. Zero values
// select the defaults (SkipAmbiguousRoutes, ArrivalMatchExact).
type Options struct {
	RoutePolicy  RoutePolicy
	ArrivalMatch ArrivalMatchPolicy
}

// Reconciler runs complete reconciliation passes: one call per agency per
// poll, producing zero or more snapshots.
type Reconciler struct {
	feeds    FeedSource
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    clock.Clock
	resolver *ContextResolver
	vehicles *VehicleReconciler
	missing  *MissingTripDetector
	stops    *StopDelayReconciler
}

func New(store *gtfsdb.Client, feeds FeedSource, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger, opts Options) *Reconciler {
	queries := store.Queries
	return &Reconciler{
		feeds:    feeds,
		metrics:  m,
		logger:   logger,
		clock:    clk,
		resolver: NewContextResolver(queries, clk, logger),
		vehicles: NewVehicleReconciler(queries, store.Stops, m, logger, opts.RoutePolicy),
		missing:  NewMissingTripDetector(queries, m, logger, opts.ArrivalMatch),
		stops:    NewStopDelayReconciler(queries, m, logger),
	}
}

// Run executes one reconciliation pass for the agency. It returns every
// snapshot the agency's configured update kinds produced. A context or
// feed failure aborts the pass with no snapshots; per-entity problems are
// contained inside the component reconcilers.
func (r *Reconciler) Run(ctx context.Context, agency models.AgencyConfig) ([]*models.Snapshot, error) {
	sctx, err := r.resolver.Resolve(ctx, agency)
	if err != nil {
		r.recordOutcome(agency, "context_error")
		return nil, err
	}

	// Both paths read the trip-update feed; fetch it once.
	var tripUpdates []*gtfsrtpb.FeedEntity
	if agency.Updates.Vehicles || agency.Updates.Stops {
		tripUpdates, err = r.fetch(ctx, agency, "trip_updates", agency.TripUpdatesURL)
		if err != nil {
			r.recordOutcome(agency, "feed_error")
			return nil, err
		}
	}

	var snapshots []*models.Snapshot

	if agency.Updates.Vehicles {
		start := r.clock.Now()

		vehicleEntities, err := r.fetch(ctx, agency, "vehicle_positions", agency.VehiclePositionsURL)
		if err != nil {
			r.recordOutcome(agency, "feed_error")
			return nil, err
		}

		features, matchedTripIDs := r.vehicles.Reconcile(ctx, agency, vehicleEntities, tripUpdates)
		missing := r.missing.Detect(ctx, agency, matchedTripIDs, sctx)
		snapshots = append(snapshots, models.NewVehicleSnapshot(agency.ID, features, missing))

		r.metrics.PassesTotal.WithLabelValues(agency.ID, models.SnapshotVehicles.String(), "ok").Inc()
		r.metrics.PassDuration.WithLabelValues(agency.ID, models.SnapshotVehicles.String()).
			Observe(r.clock.Now().Sub(start).Seconds())

		logging.LogOperation(r.logger, "vehicles_pass_completed",
			slog.String("agency_id", agency.ID),
			slog.Int("entities", len(vehicleEntities)),
			slog.Int("features", len(features)),
			slog.Int("missing_trips", len(missing)))
	}

	if agency.Updates.Stops {
		start := r.clock.Now()

		updates := r.stops.Reconcile(ctx, agency, tripUpdates)
		snapshots = append(snapshots, models.NewStopSnapshot(agency.ID, updates))

		r.metrics.PassesTotal.WithLabelValues(agency.ID, models.SnapshotStops.String(), "ok").Inc()
		r.metrics.PassDuration.WithLabelValues(agency.ID, models.SnapshotStops.String()).
			Observe(r.clock.Now().Sub(start).Seconds())

		logging.LogOperation(r.logger, "stops_pass_completed",
			slog.String("agency_id", agency.ID),
			slog.Int("entities", len(tripUpdates)),
			slog.Int("stop_updates", len(updates)))
	}

	return snapshots, nil
}

func (r *Reconciler) fetch(ctx context.Context, agency models.AgencyConfig, feed, url string) ([]*gtfsrtpb.FeedEntity, error) {
	start := r.clock.Now()
	entities, err := r.feeds.FetchEntities(ctx, url)
	r.metrics.FeedFetchDuration.WithLabelValues(agency.ID, feed).
		Observe(r.clock.Now().Sub(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetching %s feed for %s: %w", feed, agency.ID, err)
	}
	return entities, nil
}

func (r *Reconciler) recordOutcome(agency models.AgencyConfig, outcome string) {
	if agency.Updates.Vehicles {
		r.metrics.PassesTotal.WithLabelValues(agency.ID, models.SnapshotVehicles.String(), outcome).Inc()
	}
	if agency.Updates.Stops {
		r.metrics.PassesTotal.WithLabelValues(agency.ID, models.SnapshotStops.String(), outcome).Inc()
	}
}
