package reconcile

import (
	"context"
	"log/slog"
	"time"

	"reconciler.transitchat.org/gtfsdb"
	"reconciler.transitchat.org/internal/logging"
	"reconciler.transitchat.org/internal/metrics"
	"reconciler.transitchat.org/internal/models"
)

// ArrivalMatchPolicy turns the pass's seconds-after-midnight into the
// stop-time arrival window a trip must touch to count as "currently
// running". The upstream behavior demands exact equality, which is a very
// narrow detection surface; the policy is named so deployments can widen
// it without touching the detector.
type ArrivalMatchPolicy func(secondsAfterMidnight int64) (low, high int64)

// ArrivalMatchExact requires a stop-time arrival at exactly the current
// second. This is the default.
func ArrivalMatchExact(secondsAfterMidnight int64) (int64, int64) {
	return secondsAfterMidnight, secondsAfterMidnight
}

// ArrivalMatchWindow accepts arrivals within ±width of the current second.
func ArrivalMatchWindow(width time.Duration) ArrivalMatchPolicy {
	w := int64(width / time.Second)
	return func(secondsAfterMidnight int64) (int64, int64) {
		return secondsAfterMidnight - w, secondsAfterMidnight + w
	}
}

// MissingTripDetector finds scheduled trips that should be running right
// now but have no reporting vehicle.
type MissingTripDetector struct {
	queries *gtfsdb.Queries
	metrics *metrics.Metrics
	logger  *slog.Logger
	policy  ArrivalMatchPolicy
}

func NewMissingTripDetector(queries *gtfsdb.Queries, m *metrics.Metrics, logger *slog.Logger, policy ArrivalMatchPolicy) *MissingTripDetector {
	if policy == nil {
		policy = ArrivalMatchExact
	}
	return &MissingTripDetector{queries: queries, metrics: m, logger: logger, policy: policy}
}

// Detect returns the missing trips for the pass. Any query failure
// degrades to an empty list: missing-trip detection must never suppress
// valid vehicle output.
func (d *MissingTripDetector) Detect(
	ctx context.Context,
	agency models.AgencyConfig,
	seenTripIDs []string,
	sctx ScheduleContext,
) []models.MissingTrip {
	low, high := d.policy(sctx.SecondsAfterMidnight)

	rows, err := d.queries.FindMissingTrips(ctx, gtfsdb.FindMissingTripsParams{
		AgencyID:               agency.ID,
		ServiceIDs:             sctx.ActiveServiceIDs,
		SeenTripIDs:            seenTripIDs,
		ExcludedRouteLongNames: agency.ExcludeList,
		ArrivalLow:             low,
		ArrivalHigh:            high,
	})
	if err != nil {
		logging.LogError(d.logger, "missing trip query failed", err,
			slog.String("agency_id", agency.ID))
		d.metrics.MissingTrips.WithLabelValues(agency.ID).Set(0)
		return []models.MissingTrip{}
	}

	missing := make([]models.MissingTrip, 0, len(rows))
	for _, row := range rows {
		missing = append(missing, models.MissingTrip{
			TripID:    row.TripID,
			ServiceID: row.ServiceID,
			// The query already validated the service id against the
			// active set, so the trip's own id doubles as the acceptable
			// one.
			AcceptableServiceID: row.ServiceID,
			TripStartTime:       row.TripStartTime,
			TripEndTime:         row.TripEndTime,
			RouteID:             row.RouteID,
			RouteLongName:       row.RouteLongName,
		})
	}

	d.metrics.MissingTrips.WithLabelValues(agency.ID).Set(float64(len(missing)))
	return missing
}
