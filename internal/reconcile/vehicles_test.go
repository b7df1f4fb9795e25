package reconcile

import (
	"context"
	"testing"

	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciler.transitchat.org/gtfsdb"
)

func TestClassifyDelay(t *testing.T) {
	tests := []struct {
		delay    int32
		expected string
	}{
		{300, "late"},
		{310, "late"},
		{299, "on-time"},
		{0, "on-time"},
		{-60, "early"},
		{-61, "early"},
		{-59, "on-time"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ClassifyDelay(tt.delay), "delay=%d", tt.delay)
	}
}

func newTestVehicleReconciler(t *testing.T, policy RoutePolicy) *VehicleReconciler {
	t.Helper()
	store := newStoreWithSchedule(t)
	return NewVehicleReconciler(store.Queries, store.Stops, newTestMetrics(), testLogger(), policy)
}

func TestReconcileEmitsCompleteVehicle(t *testing.T) {
	r := newTestVehicleReconciler(t, nil)

	vehicles := []*gtfsrtpb.FeedEntity{
		vehicleEntity("T1", "V1", -90.2, 38.6, 0, 1000),
	}
	updates := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("T1", 310, "08:00:00", stu("S1", 1, 310, 2000)),
	}

	features, matched := r.Reconcile(context.Background(), testAgency(), vehicles, updates)
	require.Len(t, features, 1)
	assert.Equal(t, []string{"T1"}, matched)

	props := features[0].Properties
	assert.Equal(t, 0, props.ID)
	assert.Equal(t, "T1", props.TripID)
	assert.Equal(t, "V1", props.VehicleID)
	assert.Equal(t, "R1", props.RouteID)
	assert.Equal(t, 0, props.DirectionID)
	assert.Equal(t, int64(1000), props.Timestamp)
	assert.Equal(t, "08:00:00", props.StartTime)
	assert.Equal(t, 310, props.Delay)
	assert.Equal(t, "late", props.DelayType)
	assert.Equal(t, "Downtown", props.Headsign)
	assert.Equal(t, "90", props.RouteShortName)
	assert.Equal(t, "Hampton Loop", props.RouteLongName)
	assert.InDelta(t, -90.2, props.Lon, 0.0001)
	assert.InDelta(t, 38.6, props.Lat, 0.0001)
	require.Len(t, props.StopTimeUpdates, 1)
	assert.Equal(t, "S1", props.StopTimeUpdates[0].StopID)

	assert.InDelta(t, props.Lon, features[0].Geometry.Coordinates[0], 0.0001)
	assert.InDelta(t, props.Lat, features[0].Geometry.Coordinates[1], 0.0001)
}

func TestReconcileSkipsIncompleteVehicles(t *testing.T) {
	r := newTestVehicleReconciler(t, nil)
	updates := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("T1", 120, "08:00:00", stu("S1", 1, 120, 2000)),
		tripUpdateEntity("T2", 120, "08:25:00", stu("S1", 1, 120, 2500)),
	}

	complete := vehicleEntity("T1", "V1", -90.2, 38.6, 0, 1000)

	noPosition := vehicleEntity("T2", "V2", 0, 0, 0, 1000)
	noPosition.Vehicle.Position = nil

	noVehicleID := vehicleEntity("T2", "", -90.2, 38.6, 0, 1000)
	noVehicleID.Vehicle.Vehicle = nil

	noDirection := vehicleEntity("T2", "V3", -90.2, 38.6, 0, 1000)
	noDirection.Vehicle.Trip.DirectionId = nil

	noTimestamp := vehicleEntity("T2", "V4", -90.2, 38.6, 0, 1000)
	noTimestamp.Vehicle.Timestamp = nil

	noTripID := vehicleEntity("", "V5", -90.2, 38.6, 0, 1000)

	unknownTrip := vehicleEntity("GHOST", "V6", -90.2, 38.6, 0, 1000)

	vehicles := []*gtfsrtpb.FeedEntity{
		complete, noPosition, noVehicleID, noDirection, noTimestamp, noTripID, unknownTrip,
	}

	features, matched := r.Reconcile(context.Background(), testAgency(), vehicles, updates)

	// skipped count equals entities-in minus features-out
	require.Len(t, features, 1)
	assert.Equal(t, len(vehicles)-len(features), 6)
	assert.Equal(t, []string{"T1"}, matched)
	assert.Equal(t, "V1", features[0].Properties.VehicleID)
}

func TestReconcileSkipsVehicleWithoutTripUpdate(t *testing.T) {
	r := newTestVehicleReconciler(t, nil)

	vehicles := []*gtfsrtpb.FeedEntity{
		vehicleEntity("T1", "V1", -90.2, 38.6, 0, 1000),
	}

	features, matched := r.Reconcile(context.Background(), testAgency(), vehicles, nil)
	assert.Empty(t, features)
	assert.Empty(t, matched)
}

func TestReconcileSkipsVehicleWithoutStartTime(t *testing.T) {
	r := newTestVehicleReconciler(t, nil)

	vehicles := []*gtfsrtpb.FeedEntity{
		vehicleEntity("T1", "V1", -90.2, 38.6, 0, 1000),
	}
	updates := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("T1", 120, "", stu("S1", 1, 120, 2000)),
	}

	features, _ := r.Reconcile(context.Background(), testAgency(), vehicles, updates)
	assert.Empty(t, features)
}

func TestReconcileAssignsPositionalIDs(t *testing.T) {
	r := newTestVehicleReconciler(t, nil)

	vehicles := []*gtfsrtpb.FeedEntity{
		vehicleEntity("T1", "V1", -90.2, 38.6, 0, 1000),
		vehicleEntity("GHOST", "VX", -90.2, 38.6, 0, 1000), // skipped
		vehicleEntity("T2", "V2", -90.3, 38.7, 1, 1001),
	}
	updates := []*gtfsrtpb.FeedEntity{
		tripUpdateEntity("T1", 0, "08:00:00", stu("S1", 1, 0, 2000)),
		tripUpdateEntity("T2", 0, "08:25:00", stu("S1", 1, 0, 2500)),
	}

	features, _ := r.Reconcile(context.Background(), testAgency(), vehicles, updates)
	require.Len(t, features, 2)
	// ids stay dense despite the skip in the middle
	assert.Equal(t, 0, features[0].ID)
	assert.Equal(t, 1, features[1].ID)
	assert.Equal(t, "T2", features[1].Properties.TripID)
}

func TestRoutePolicies(t *testing.T) {
	one := []gtfsdb.Route{{ID: "R1"}}
	two := []gtfsdb.Route{{ID: "R1"}, {ID: "R2"}}

	assert.False(t, SkipAmbiguousRoutes(nil))
	assert.True(t, SkipAmbiguousRoutes(one))
	assert.False(t, SkipAmbiguousRoutes(two))

	assert.False(t, AllowFirstRoute(nil))
	assert.True(t, AllowFirstRoute(one))
	assert.True(t, AllowFirstRoute(two))
}
