package reconcile

import (
	"context"
	"log/slog"
	"strings"

	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"

	"reconciler.transitchat.org/gtfsdb"
	"reconciler.transitchat.org/internal/metrics"
	"reconciler.transitchat.org/internal/models"
)

// StopDelayReconciler flattens trip-update entities into per-stop delay
// records, the output path for agencies that publish predictions without
// vehicle positions.
type StopDelayReconciler struct {
	queries *gtfsdb.Queries
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewStopDelayReconciler(queries *gtfsdb.Queries, m *metrics.Metrics, logger *slog.Logger) *StopDelayReconciler {
	return &StopDelayReconciler{queries: queries, metrics: m, logger: logger}
}

// Reconcile flattens every stop-time update across the feed. Ordinal ids
// are dense in encounter order across the whole feed, not per trip.
// Entries without a stop id or delay are dropped with a diagnostic.
func (r *StopDelayReconciler) Reconcile(
	ctx context.Context,
	agency models.AgencyConfig,
	tripUpdates []*gtfsrtpb.FeedEntity,
) []models.StopUpdate {
	updates := []models.StopUpdate{}

	for _, entity := range tripUpdates {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}

		tripID := tu.GetTrip().GetTripId()
		routeID := tu.GetTrip().GetRouteId()
		directionID := int(tu.GetTrip().GetDirectionId())
		label := tu.GetVehicle().GetLabel()
		routeNumber := firstToken(label)
		mode := r.modeForTrip(ctx, agency, tripID)

		for _, stu := range tu.GetStopTimeUpdate() {
			stopID := stu.GetStopId()
			delay := stopUpdateDelay(stu)
			if stopID == "" || delay == nil {
				r.logger.Debug("dropping stop time update",
					slog.String("agency_id", agency.ID),
					slog.String("trip_id", tripID),
					slog.Bool("has_stop_id", stopID != ""),
					slog.Bool("has_delay", delay != nil))
				continue
			}

			updates = append(updates, models.StopUpdate{
				OID:          len(updates),
				StopID:       stopID,
				StopSequence: int(stu.GetStopSequence()),
				Delay:        int(*delay),
				Mode:         mode,
				TripID:       tripID,
				RouteID:      routeID,
				RouteNumber:  routeNumber,
				DirectionID:  directionID,
			})
		}
	}

	r.metrics.StopUpdates.WithLabelValues(agency.ID).Add(float64(len(updates)))
	return updates
}

// stopUpdateDelay prefers the departure event's delay, falling back to
// arrival.
func stopUpdateDelay(stu *gtfsrtpb.TripUpdate_StopTimeUpdate) *int32 {
	if dep := stu.GetDeparture(); dep != nil && dep.Delay != nil {
		return copyInt32(dep.Delay)
	}
	if arr := stu.GetArrival(); arr != nil && arr.Delay != nil {
		return copyInt32(arr.Delay)
	}
	return nil
}

// firstToken returns the first whitespace-delimited token of a vehicle
// label, the convention the source agencies use for route numbers.
func firstToken(label string) string {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// modeForTrip tags the record "train" for rail-type routes and "bus"
// otherwise. Unknown trips default to "bus".
func (r *StopDelayReconciler) modeForTrip(ctx context.Context, agency models.AgencyConfig, tripID string) string {
	if tripID == "" {
		return "bus"
	}
	tripInfo, err := r.queries.GetTripWithRoutes(ctx, tripID, agency.ID)
	if err != nil || len(tripInfo.Routes) == 0 {
		return "bus"
	}
	switch tripInfo.Routes[0].Type {
	case 0, 1, 2: // tram, subway, rail
		return "train"
	default:
		return "bus"
	}
}
