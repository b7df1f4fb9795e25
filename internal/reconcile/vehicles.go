package reconcile

import (
	"context"
	"database/sql"
	"log/slog"

	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"

	"reconciler.transitchat.org/gtfsdb"
	"reconciler.transitchat.org/internal/logging"
	"reconciler.transitchat.org/internal/metrics"
	"reconciler.transitchat.org/internal/models"
)

// Delay classification boundaries, inclusive.
const (
	lateThresholdSeconds  = 300
	earlyThresholdSeconds = -60
)

// ClassifyDelay buckets a signed delay in seconds.
func ClassifyDelay(delay int32) string {
	switch {
	case delay >= lateThresholdSeconds:
		return "late"
	case delay <= earlyThresholdSeconds:
		return "early"
	default:
		return "on-time"
	}
}

// RoutePolicy decides whether a trip's route rows are unambiguous enough
// for the vehicle to be emitted. The upstream agencies' own validation
// skips trips with more than one associated route; that reading is
// arguable, so the guard is swappable.
type RoutePolicy func(routes []gtfsdb.Route) bool

// SkipAmbiguousRoutes accepts only trips resolving to exactly one route.
// This is the default.
func SkipAmbiguousRoutes(routes []gtfsdb.Route) bool {
	return len(routes) == 1
}

// AllowFirstRoute accepts any trip with at least one route and lets the
// first row win.
func AllowFirstRoute(routes []gtfsdb.Route) bool {
	return len(routes) >= 1
}

// VehicleReconciler joins vehicle-position entities with schedule metadata
// and trip-update matches, emitting one enriched feature per complete
// vehicle.
type VehicleReconciler struct {
	queries     *gtfsdb.Queries
	stops       *gtfsdb.StopIndex
	metrics     *metrics.Metrics
	logger      *slog.Logger
	routePolicy RoutePolicy
}

func NewVehicleReconciler(queries *gtfsdb.Queries, stops *gtfsdb.StopIndex, m *metrics.Metrics, logger *slog.Logger, policy RoutePolicy) *VehicleReconciler {
	if policy == nil {
		policy = SkipAmbiguousRoutes
	}
	return &VehicleReconciler{
		queries:     queries,
		stops:       stops,
		metrics:     m,
		logger:      logger,
		routePolicy: policy,
	}
}

// Reconcile processes vehicle entities in feed order and returns the
// emitted features plus the trip ids they cover. Feature ids are
// positional within the pass, so entities must not be processed
// concurrently. Incomplete entities are skipped, never partially emitted.
func (r *VehicleReconciler) Reconcile(
	ctx context.Context,
	agency models.AgencyConfig,
	vehicleEntities []*gtfsrtpb.FeedEntity,
	tripUpdates []*gtfsrtpb.FeedEntity,
) ([]models.VehicleFeature, []string) {
	candidates := tripIDPool(vehicleEntities)

	var features []models.VehicleFeature
	var matchedTripIDs []string

	for _, entity := range vehicleEntities {
		feature, ok := r.reconcileOne(ctx, agency, entity, tripUpdates, candidates, len(features))
		if !ok {
			continue
		}
		features = append(features, feature)
		matchedTripIDs = append(matchedTripIDs, feature.Properties.TripID)
		r.metrics.VehiclesEmitted.WithLabelValues(agency.ID).Inc()
	}

	return features, matchedTripIDs
}

// tripIDPool collects every trip id declared in the vehicle feed, the
// candidate set for fallback trip matching.
func tripIDPool(vehicleEntities []*gtfsrtpb.FeedEntity) map[string]struct{} {
	pool := make(map[string]struct{}, len(vehicleEntities))
	for _, entity := range vehicleEntities {
		if id := entity.GetVehicle().GetTrip().GetTripId(); id != "" {
			pool[id] = struct{}{}
		}
	}
	return pool
}

func (r *VehicleReconciler) reconcileOne(
	ctx context.Context,
	agency models.AgencyConfig,
	entity *gtfsrtpb.FeedEntity,
	tripUpdates []*gtfsrtpb.FeedEntity,
	candidates map[string]struct{},
	featureID int,
) (feature models.VehicleFeature, ok bool) {
	// One bad entity must never abort the agency's pass.
	defer func() {
		if rec := recover(); rec != nil {
			logging.LogError(r.logger, "panic reconciling vehicle entity", nil,
				slog.String("agency_id", agency.ID),
				slog.Any("panic", rec))
			r.skip(agency, "panic")
			ok = false
		}
	}()

	vp := entity.GetVehicle()
	if vp == nil {
		r.skip(agency, "not_vehicle")
		return feature, false
	}

	tripID := vp.GetTrip().GetTripId()
	if tripID == "" {
		r.skip(agency, "no_trip_id")
		return feature, false
	}

	tripInfo, err := r.queries.GetTripWithRoutes(ctx, tripID, agency.ID)
	if err != nil {
		if err != sql.ErrNoRows {
			logging.LogError(r.logger, "trip lookup failed", err,
				slog.String("agency_id", agency.ID),
				slog.String("trip_id", tripID))
		}
		r.logUnknownTripPosition(agency, tripID, vp)
		r.skip(agency, "unknown_trip")
		return feature, false
	}

	if !r.routePolicy(tripInfo.Routes) {
		r.skip(agency, "ambiguous_route")
		return feature, false
	}

	match := MatchTrip(tripID, tripUpdates, candidates)

	pos := vp.GetPosition()
	if pos == nil || pos.Longitude == nil || pos.Latitude == nil {
		r.skip(agency, "no_position")
		return feature, false
	}
	vehicleID := vp.GetVehicle().GetId()
	if vehicleID == "" {
		r.skip(agency, "no_vehicle_id")
		return feature, false
	}
	if vp.GetTrip().DirectionId == nil {
		r.skip(agency, "no_direction")
		return feature, false
	}
	if vp.Timestamp == nil {
		r.skip(agency, "no_timestamp")
		return feature, false
	}
	if !match.Usable() || match.StartTime == "" {
		r.skip(agency, "no_trip_update")
		return feature, false
	}

	route := tripInfo.Routes[0]
	delay := *match.Delay

	feature = models.NewVehicleFeature(models.VehicleProperties{
		ID:              featureID,
		TripID:          tripID,
		VehicleID:       vehicleID,
		RouteID:         tripInfo.Trip.RouteID,
		DirectionID:     int(vp.GetTrip().GetDirectionId()),
		Timestamp:       int64(vp.GetTimestamp()),
		StopTimeUpdates: match.StopTimeUpdates,
		StartTime:       match.StartTime,
		Delay:           int(delay),
		DelayType:       ClassifyDelay(delay),
		Headsign:        tripInfo.Trip.TripHeadsign.String,
		RouteShortName:  route.ShortName.String,
		RouteLongName:   route.LongName.String,
		Lon:             float64(pos.GetLongitude()),
		Lat:             float64(pos.GetLatitude()),
	})
	return feature, true
}

// logUnknownTripPosition records where a vehicle with an unresolvable trip
// id was last seen, tagged with its nearest scheduled stop.
func (r *VehicleReconciler) logUnknownTripPosition(agency models.AgencyConfig, tripID string, vp *gtfsrtpb.VehiclePosition) {
	pos := vp.GetPosition()
	if r.stops == nil || pos == nil || pos.Longitude == nil || pos.Latitude == nil {
		return
	}

	lon, lat := float64(pos.GetLongitude()), float64(pos.GetLatitude())
	attrs := []any{
		slog.String("agency_id", agency.ID),
		slog.String("trip_id", tripID),
		slog.Float64("lon", lon),
		slog.Float64("lat", lat),
	}
	if nearby := r.stops.Nearest(agency.ID, lon, lat, 1); len(nearby) > 0 {
		attrs = append(attrs,
			slog.String("nearest_stop_id", nearby[0].Stop.ID),
			slog.Float64("nearest_stop_meters", nearby[0].DistanceMeters))
	}
	r.logger.Debug("vehicle reports unknown trip", attrs...)
}

func (r *VehicleReconciler) skip(agency models.AgencyConfig, reason string) {
	r.metrics.VehiclesSkipped.WithLabelValues(agency.ID, reason).Inc()
	r.logger.Debug("skipping vehicle entity",
		slog.String("agency_id", agency.ID),
		slog.String("reason", reason))
}
